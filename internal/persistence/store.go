// Package persistence loads and saves per-player attributes off the world
// goroutine.
package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/shamaton/msgpack/v2"

	"blockworld/server/internal/world"
)

var (
	// ErrNotFound means the store has no record for the player. A load that
	// fails this way is treated as a new player, not as a failure.
	ErrNotFound = errors.New("player not found")
	// ErrClosed is returned once the manager has shut down.
	ErrClosed = errors.New("persistence manager closed")
)

// Store is the backing store for player attributes.
type Store interface {
	Load(ctx context.Context, id string) (world.Attributes, error)
	Save(ctx context.Context, id string, attrs world.Attributes) error
}

// EncodeAttributes serializes attributes as a msgpack map.
func EncodeAttributes(attrs world.Attributes) ([]byte, error) {
	if attrs == nil {
		attrs = world.Attributes{}
	}
	return msgpack.Marshal(map[string]any(attrs))
}

// DecodeAttributes parses a msgpack map produced by EncodeAttributes.
func DecodeAttributes(data []byte) (world.Attributes, error) {
	var out map[string]any
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return world.Attributes(out), nil
}

// MemoryStore keeps encoded snapshots in memory. Snapshots go through the
// msgpack codec so values come back the way a durable store returns them.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (world.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.records[strings.ToLower(id)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeAttributes(data)
}

func (s *MemoryStore) Save(ctx context.Context, id string, attrs world.Attributes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeAttributes(attrs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[strings.ToLower(id)] = data
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored players.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
