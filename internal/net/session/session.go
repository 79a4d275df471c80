// Package session runs one client connection: the login stage machine, the
// inbound read pump and the ordered outbound stream.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"blockworld/server/internal/net/ext"
	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/telemetry"
	"blockworld/server/logging"
	"blockworld/server/logging/network"
)

const (
	framesSentMetricKey   = "session_frames_sent_total"
	bytesSentMetricKey    = "session_bytes_sent_total"
	tooSlowMetricKey      = "session_too_slow_total"
	floodMetricKey        = "session_flood_total"
	protocolErrMetricKey  = "session_protocol_errors_total"
	sessionsOpenMetricKey = "session_opened_total"
)

// Disconnect reasons sent to the client.
const (
	ReasonTooSlow      = "Too slow"
	ReasonFlood        = "Packet flood"
	ReasonTimedOut     = "Timed out"
	ReasonMalformed    = "Malformed packet"
	ReasonShuttingDown = "Server shutting down"
	// ReasonConnection marks a session whose transport failed; nothing is
	// sent for it.
	ReasonConnection = "Connection lost"
)

// Stage is the login progress of a session. Stages only move forward.
type Stage int32

const (
	StageConnecting Stage = iota
	StageAuthenticated
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageConnecting:
		return "connecting"
	case StageAuthenticated:
		return "authenticated"
	case StageReady:
		return "ready"
	default:
		return fmt.Sprintf("stage(%d)", int32(s))
	}
}

// Conn is the transport under a session. net.Conn satisfies it, as does
// the websocket adapter.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	RemoteAddr() net.Addr
}

// Handler receives decoded packets on the read goroutine. Returning an error
// closes the session with the error text as the disconnect reason, so
// handlers must not mutate world state directly.
type Handler interface {
	HandlePacket(s *Session, pkt proto.Packet) error
	HandleClose(s *Session, reason string)
}

// Config tunes a session.
type Config struct {
	OutboundQueue int
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	PacketRate    float64
	PacketBurst   int
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		OutboundQueue: 1024,
		IdleTimeout:   90 * time.Second,
		WriteTimeout:  10 * time.Second,
		PacketRate:    120,
		PacketBurst:   240,
	}
}

// Normalized fills zero values with defaults.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = def.OutboundQueue
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PacketRate <= 0 {
		c.PacketRate = def.PacketRate
	}
	if c.PacketBurst <= 0 {
		c.PacketBurst = def.PacketBurst
	}
	return c
}

// Options carries a session's collaborators.
type Options struct {
	Config     Config
	Transport  string
	Incoming   *proto.Codec
	Outgoing   *proto.Codec
	Extensions *ext.Registry
	Handler    Handler
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Publisher  logging.Publisher
}

type outbound struct {
	data    []byte
	barrier func()
}

// Session owns one connection. Send and Close are safe from any goroutine.
type Session struct {
	id        string
	conn      Conn
	transport string
	cfg       Config
	in        *proto.Codec
	out       *proto.Codec
	caps      *ext.Set
	handler   Handler
	limiter   *rate.Limiter
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	stage   atomic.Int32
	closed  atomic.Bool
	queue   chan outbound
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
}

// New wraps conn. Run starts the pumps.
func New(conn Conn, opts Options) *Session {
	cfg := opts.Config.Normalized()
	tables := proto.DefaultTables()
	in, out := opts.Incoming, opts.Outgoing
	if in == nil || out == nil {
		defIn, defOut := tables.Codecs()
		if in == nil {
			in = defIn
		}
		if out == nil {
			out = defOut
		}
	}
	registry := opts.Extensions
	if registry == nil {
		registry = ext.NewRegistry(ext.DefaultDeclarations())
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Discard
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Session{
		id:        uuid.NewString(),
		conn:      conn,
		transport: opts.Transport,
		cfg:       cfg,
		in:        in,
		out:       out,
		caps:      registry.NewSet(),
		handler:   opts.Handler,
		limiter:   rate.NewLimiter(rate.Limit(cfg.PacketRate), cfg.PacketBurst),
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		queue:     make(chan outbound, cfg.OutboundQueue),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// Remote is the peer address.
func (s *Session) Remote() string {
	if s.conn == nil || s.conn.RemoteAddr() == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Capabilities is the negotiated extension set.
func (s *Session) Capabilities() *ext.Set { return s.caps }

// Stage reports the current login stage.
func (s *Session) Stage() Stage { return Stage(s.stage.Load()) }

// Advance moves the session forward to stage. It reports false when the
// session is already at or past it.
func (s *Session) Advance(stage Stage) bool {
	for {
		current := s.stage.Load()
		if int32(stage) <= current {
			return false
		}
		if s.stage.CompareAndSwap(current, int32(stage)) {
			return true
		}
	}
}

// Live reports whether the session has not been closed.
func (s *Session) Live() bool { return !s.closed.Load() }

// Done is closed after the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason is the close reason, empty while the session is live.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Send queues an encoded frame. Frames on a closed session are dropped.
// A session whose queue is full is closed as too slow.
func (s *Session) Send(frame []byte) {
	if s == nil || len(frame) == 0 || s.closed.Load() {
		return
	}
	s.enqueue(outbound{data: frame})
}

// Barrier runs fn on the write goroutine once every frame queued before it
// has been written. fn never runs if the session closes first.
func (s *Session) Barrier(fn func()) bool {
	if s == nil || fn == nil || s.closed.Load() {
		return false
	}
	return s.enqueue(outbound{barrier: fn})
}

func (s *Session) enqueue(item outbound) bool {
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.queue <- item:
		return true
	default:
		s.metrics.Add(tooSlowMetricKey, 1)
		s.logger.Printf("[backpressure] session %s outbound queue full, closing", s.id)
		s.Close(ReasonTooSlow)
		return false
	}
}

// Close ends the session. The reason is sent to the client best effort
// after the frames already queued. Only the first call has any effect.
func (s *Session) Close(reason string) {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.closed.Store(true)
		close(s.closing)
	})
}

// Run pumps the connection until it closes or ctx ends. It returns after
// the handler has been told about the close.
func (s *Session) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("nil session")
	}
	defer close(s.done)
	s.metrics.Add(sessionsOpenMetricKey, 1)
	network.SessionOpened(ctx, s.publisher, logging.SessionRef(s.id), network.SessionPayload{
		Remote:    s.Remote(),
		Transport: s.transport,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.readLoop()
		return nil
	})
	group.Go(func() error {
		s.writeLoop()
		return s.conn.Close()
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			s.Close(ReasonShuttingDown)
		case <-s.closing:
		}
		return nil
	})
	err := group.Wait()

	reason := s.Reason()
	if s.handler != nil {
		s.handler.HandleClose(s, reason)
	}
	network.SessionClosed(context.Background(), s.publisher, logging.SessionRef(s.id), network.ClosedPayload{
		Remote: s.Remote(),
		Reason: reason,
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Session) readLoop() {
	reader := bufio.NewReader(s.conn)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		pkt, err := s.in.ReadPacket(reader)
		if err != nil {
			s.Close(s.readFailure(err))
			return
		}
		if !s.Live() {
			return
		}
		if !s.limiter.Allow() {
			s.metrics.Add(floodMetricKey, 1)
			s.Close(ReasonFlood)
			return
		}
		if s.handler == nil {
			continue
		}
		if err := s.handler.HandlePacket(s, pkt); err != nil {
			s.Close(err.Error())
			return
		}
	}
}

func (s *Session) readFailure(err error) string {
	switch {
	case !s.Live():
		return s.Reason()
	case errors.Is(err, proto.ErrFormat):
		s.metrics.Add(protocolErrMetricKey, 1)
		s.logger.Printf("[session] %s sent a malformed packet: %v", s.id, err)
		network.ProtocolError(context.Background(), s.publisher, logging.SessionRef(s.id), network.ProtocolErrorPayload{Error: err.Error()})
		return ReasonMalformed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ReasonTimedOut
	default:
		return ReasonConnection
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closing:
			s.flush()
			return
		default:
		}
		select {
		case item := <-s.queue:
			if !s.write(item) {
				s.Close(ReasonConnection)
				return
			}
		case <-s.closing:
			s.flush()
			return
		}
	}
}

// flush writes what is still queued and then the disconnect reason.
func (s *Session) flush() {
	reason := s.Reason()
	if reason == ReasonConnection {
		return
	}
	if reason == ReasonTooSlow {
		s.writeReason(reason)
		return
	}
	for {
		select {
		case item := <-s.queue:
			if item.barrier != nil {
				continue
			}
			if !s.write(item) {
				return
			}
		default:
			s.writeReason(reason)
			return
		}
	}
}

func (s *Session) writeReason(reason string) {
	if reason == "" {
		return
	}
	frame, err := s.out.Builder(proto.OutDisconnect).String("reason", reason).Encode()
	if err != nil {
		return
	}
	s.write(outbound{data: frame})
}

func (s *Session) write(item outbound) bool {
	if item.barrier != nil {
		if s.Live() {
			item.barrier()
		}
		return true
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return false
	}
	if _, err := s.conn.Write(item.data); err != nil {
		return false
	}
	s.metrics.Add(framesSentMetricKey, 1)
	s.metrics.Add(bytesSentMetricKey, uint64(len(item.data)))
	return true
}
