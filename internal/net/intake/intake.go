// Package intake stages inbound packets: it runs the login handshake on the
// session's read goroutine and turns every world-facing packet into a task
// on the world queue.
package intake

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"blockworld/server/internal/net/ext"
	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/net/sender"
	"blockworld/server/internal/net/session"
	"blockworld/server/internal/sim"
	"blockworld/server/internal/telemetry"
	"blockworld/server/internal/world"
	"blockworld/server/logging"
	"blockworld/server/logging/network"
)

const (
	packetsMetricKey = "intake_packets_total"
	droppedMetricKey = "intake_packets_dropped_total"
)

// Reasons a login is refused before it reaches the world.
const (
	RejectVersion      = "Wrong protocol version"
	RejectName         = "Invalid name"
	RejectVerification = "Name verification failed"
	RejectHandshake    = "Unexpected handshake packet"
	RejectShutdown     = "Server shutting down"
)

// MaxNameLength bounds player names.
const MaxNameLength = 16

// Login is a validated identification, handed to the world once the
// extension handshake has finished.
type Login struct {
	Name         string
	Verification string
	Extended     bool
}

// World applies staged packets. Every method runs on the world goroutine
// and only for sessions that are still live, except Disconnect.
type World interface {
	Login(s *session.Session, login Login)
	SetBlock(s *session.Session, x, y, z int, place bool, block uint16)
	Move(s *session.Session, pos world.Position, rot world.Rotation)
	Chat(s *session.Session, message string, partial bool)
	Disconnect(s *session.Session, reason string)
}

// Config controls login validation.
type Config struct {
	AppName     string
	VerifyNames bool
	Salt        string
}

// Dispatcher implements session.Handler.
type Dispatcher struct {
	cfg       Config
	queue     sim.Pusher
	world     World
	registry  *ext.Registry
	out       *proto.Codec
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	mu      sync.Mutex
	pending map[*session.Session]*pendingLogin
}

type pendingLogin struct {
	Login
	finished bool
}

var _ session.Handler = (*Dispatcher)(nil)

// NewDispatcher wires a dispatcher. out encodes the handshake replies sent
// from the read goroutine.
func NewDispatcher(cfg Config, queue sim.Pusher, w World, registry *ext.Registry, out *proto.Codec, logger telemetry.Logger, metrics telemetry.Metrics, publisher logging.Publisher) *Dispatcher {
	if logger == nil {
		logger = telemetry.Discard
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if cfg.AppName == "" {
		cfg.AppName = "blockworld"
	}
	return &Dispatcher{
		cfg:       cfg,
		queue:     queue,
		world:     w,
		registry:  registry,
		out:       out,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		pending:   make(map[*session.Session]*pendingLogin),
	}
}

// ValidName reports whether name is 1 to 16 characters of letters, digits,
// underscore or dot.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLength {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Verify checks a verification key: the hex MD5 of salt followed by name.
func Verify(salt, name, key string) bool {
	sum := md5.Sum([]byte(salt + name))
	return strings.EqualFold(hex.EncodeToString(sum[:]), strings.TrimSpace(key))
}

// HandlePacket runs on the session's read goroutine.
func (d *Dispatcher) HandlePacket(s *session.Session, pkt proto.Packet) error {
	d.metrics.Add(packetsMetricKey, 1)
	switch pkt.Opcode() {
	case proto.InIdentification:
		return d.identify(s, pkt)
	case proto.InExtInfo:
		return d.extInfo(s, pkt)
	case proto.InExtEntry:
		return d.extEntry(s, pkt)
	case proto.InCustomBlockSupport:
		return nil
	case proto.InTwoWayPing:
		if pkt.Byte("server_to_client") == 0 {
			sender.New(d.out, s, s.Capabilities(), d.logger).TwoWayPing(false, int(pkt.Short("data")))
		}
		return nil
	case proto.InSetBlock:
		x, y, z := int(pkt.Short("x")), int(pkt.Short("y")), int(pkt.Short("z"))
		place := pkt.Byte("mode") != 0
		block := pkt.Short("type")
		return d.stage(s, "set-block", func() { d.world.SetBlock(s, x, y, z, place, block) })
	case proto.InPosition:
		pos := world.Position{X: int(pkt.Int16("x")), Y: int(pkt.Int16("y")), Z: int(pkt.Int16("z"))}
		rot := world.Rotation{Yaw: int(pkt.Byte("yaw")), Pitch: int(pkt.Byte("pitch"))}
		return d.stage(s, "move", func() { d.world.Move(s, pos, rot) })
	case proto.InChat:
		message := pkt.String("message")
		partial := pkt.Byte("partial") != 0
		return d.stage(s, "chat", func() { d.world.Chat(s, message, partial) })
	}
	return nil
}

// stage pushes a gameplay task. Packets arriving before the session is
// ready are dropped.
func (d *Dispatcher) stage(s *session.Session, name string, fn func()) error {
	if s.Stage() != session.StageReady {
		d.metrics.Add(droppedMetricKey, 1)
		return nil
	}
	return d.push(name, func() {
		if s.Live() {
			fn()
		}
	})
}

func (d *Dispatcher) push(name string, fn func()) error {
	if err := d.queue.Push(sim.Named(name, fn)); err != nil {
		if errors.Is(err, sim.ErrQueueClosed) {
			return errors.New(RejectShutdown)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) identify(s *session.Session, pkt proto.Packet) error {
	d.mu.Lock()
	_, seen := d.pending[s]
	d.mu.Unlock()
	if seen || s.Stage() != session.StageConnecting {
		return errors.New(RejectHandshake)
	}
	if pkt.Byte("protocol_version") != proto.Version {
		return errors.New(RejectVersion)
	}
	login := &pendingLogin{Login: Login{
		Name:         pkt.String("username"),
		Verification: pkt.String("verification_key"),
		Extended:     pkt.Byte("magic") == proto.Magic,
	}}
	if !ValidName(login.Name) {
		return errors.New(RejectName)
	}
	if d.cfg.VerifyNames && !Verify(d.cfg.Salt, login.Name, login.Verification) {
		return errors.New(RejectVerification)
	}

	d.mu.Lock()
	d.pending[s] = login
	d.mu.Unlock()

	if !login.Extended {
		s.Capabilities().Begin("", 0)
		return d.finishLogin(s, login)
	}
	sender.New(d.out, s, s.Capabilities(), d.logger).ExtHandshake(d.cfg.AppName, d.registry.Declarations())
	return nil
}

func (d *Dispatcher) login(s *session.Session) *pendingLogin {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending[s]
}

func (d *Dispatcher) extInfo(s *session.Session, pkt proto.Packet) error {
	login := d.login(s)
	if login == nil || !login.Extended || login.finished {
		return errors.New(RejectHandshake)
	}
	caps := s.Capabilities()
	caps.Begin(pkt.String("app_name"), int(pkt.Short("extension_count")))
	if caps.Complete() {
		return d.finishLogin(s, login)
	}
	return nil
}

func (d *Dispatcher) extEntry(s *session.Session, pkt proto.Packet) error {
	login := d.login(s)
	if login == nil || !login.Extended || login.finished {
		return errors.New(RejectHandshake)
	}
	caps := s.Capabilities()
	if caps.Complete() {
		return errors.New(RejectHandshake)
	}
	if caps.Add(pkt.String("ext_name"), int(pkt.Int("ext_version"))) {
		return d.finishLogin(s, login)
	}
	return nil
}

func (d *Dispatcher) finishLogin(s *session.Session, login *pendingLogin) error {
	login.finished = true
	caps := s.Capabilities()
	network.HandshakeCompleted(context.Background(), d.publisher, logging.SessionRef(s.ID()), network.HandshakePayload{
		AppName:    caps.AppName(),
		Extensions: len(caps.Negotiated()),
	})
	accepted := login.Login
	return d.push("login", func() {
		if s.Live() {
			d.world.Login(s, accepted)
		}
	})
}

// HandleClose forgets the session and tells the world it left.
func (d *Dispatcher) HandleClose(s *session.Session, reason string) {
	d.mu.Lock()
	delete(d.pending, s)
	d.mu.Unlock()
	if err := d.push("disconnect", func() { d.world.Disconnect(s, reason) }); err != nil {
		d.logger.Printf("[intake] dropping disconnect for %s: %v", s.ID(), err)
	}
}
