package sinks

import (
	"context"
	"sync"

	"blockworld/server/logging"
)

// MemorySink keeps every event it receives. Tests read them back with Events
// or block on WaitFor.
type MemorySink struct {
	mu     sync.RWMutex
	events []logging.Event
	notify chan struct{}
}

func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]logging.Event, 0), notify: make(chan struct{}, 1)}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	s.events = append(s.events, logging.CloneEvent(event))
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *MemorySink) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]logging.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

// WaitFor blocks until an event of the given type has been written or ctx
// ends.
func (s *MemorySink) WaitFor(ctx context.Context, eventType logging.EventType) (logging.Event, bool) {
	for {
		for _, event := range s.Events() {
			if event.Type == eventType {
				return event, true
			}
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return logging.Event{}, false
		}
	}
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}
