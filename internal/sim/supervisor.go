package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"blockworld/server/internal/telemetry"
)

// DefaultJoinTimeout bounds how long Stop waits for a behaviour to exit.
const DefaultJoinTimeout = 2 * time.Second

// Behaviour is one iteration of a background behaviour. It must only push
// tasks; it never touches world state directly.
type Behaviour func(ctx context.Context)

// Supervisor runs cancellable periodic behaviours keyed by an identity such
// as a player name. At most one behaviour runs per key.
type Supervisor struct {
	logger      telemetry.Logger
	joinTimeout time.Duration

	mu      sync.Mutex
	running map[string]*supervised
}

type supervised struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

// NewSupervisor builds an empty supervisor.
func NewSupervisor(logger telemetry.Logger, joinTimeout time.Duration) *Supervisor {
	if logger == nil {
		logger = telemetry.Discard
	}
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &Supervisor{logger: logger, joinTimeout: joinTimeout, running: make(map[string]*supervised)}
}

// Start runs fn every interval under key, replacing any behaviour already
// running for that key.
func (s *Supervisor) Start(key string, interval time.Duration, fn Behaviour) {
	if s == nil || fn == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	s.Stop(key)

	ctx, cancel := context.WithCancel(context.Background())
	b := &supervised{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[key] = b
	s.mu.Unlock()

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if b.stopped.Load() {
				return
			}
			fn(ctx)
		}
	}()
}

// Running reports whether a behaviour is registered under key.
func (s *Supervisor) Running(key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[key]
	return ok
}

// Stop cancels the behaviour under key and waits a bounded time for it to
// exit. It reports whether a behaviour was running.
func (s *Supervisor) Stop(key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	b, ok := s.running[key]
	delete(s.running, key)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.join(key, b)
	return true
}

// StopAll cancels every behaviour.
func (s *Supervisor) StopAll() {
	if s == nil {
		return
	}
	s.mu.Lock()
	running := s.running
	s.running = make(map[string]*supervised)
	s.mu.Unlock()
	for key, b := range running {
		s.join(key, b)
	}
}

func (s *Supervisor) join(key string, b *supervised) {
	b.stopped.Store(true)
	b.cancel()
	timer := time.NewTimer(s.joinTimeout)
	defer timer.Stop()
	select {
	case <-b.done:
	case <-timer.C:
		s.logger.Printf("[supervisor] behaviour %s did not stop within %s", key, s.joinTimeout)
	}
}
