package server

import (
	"context"
	"time"

	"blockworld/server/internal/sim"
)

// PlayerDiagnostics describes one admitted session.
type PlayerDiagnostics struct {
	Name       string `json:"name"`
	EntityID   int    `json:"entityId"`
	Session    string `json:"session"`
	Remote     string `json:"remote"`
	Stage      string `json:"stage"`
	Client     string `json:"client,omitempty"`
	Extensions int    `json:"extensions"`
	Hidden     bool   `json:"hidden,omitempty"`
	Following  bool   `json:"following,omitempty"`
	OnlineMs   int64  `json:"onlineMillis,omitempty"`
}

// Diagnostics is a point-in-time view of the hub.
type Diagnostics struct {
	Tick          uint64              `json:"tick"`
	Level         string              `json:"level"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
	Length        int                 `json:"length"`
	Capacity      int                 `json:"capacity"`
	Players       []PlayerDiagnostics `json:"players"`
	PendingBlocks int                 `json:"pendingBlocks"`
}

// Diagnostics collects a snapshot on the world goroutine. It is safe to
// call from any other goroutine.
func (h *Hub) Diagnostics(ctx context.Context) (Diagnostics, error) {
	result := make(chan Diagnostics, 1)
	if err := h.queue.Push(sim.Named("diagnostics", func() { result <- h.snapshot() })); err != nil {
		return Diagnostics{}, err
	}
	select {
	case d := <-result:
		return d, nil
	case <-ctx.Done():
		return Diagnostics{}, ctx.Err()
	}
}

func (h *Hub) snapshot() Diagnostics {
	d := Diagnostics{
		Tick:          h.tick,
		Level:         h.level.Name,
		Width:         h.level.Width(),
		Height:        h.level.Height(),
		Length:        h.level.Length(),
		Capacity:      h.registry.Capacity(),
		Players:       make([]PlayerDiagnostics, 0, len(h.clients)),
		PendingBlocks: len(h.pending),
	}
	now := time.Now()
	for _, p := range h.registry.Players() {
		c := h.byPlayer[p]
		if c == nil {
			continue
		}
		caps := c.session.Capabilities()
		entry := PlayerDiagnostics{
			Name:       p.Name,
			EntityID:   p.ID,
			Session:    c.session.ID(),
			Remote:     c.session.Remote(),
			Stage:      c.session.Stage().String(),
			Client:     caps.AppName(),
			Extensions: len(caps.Negotiated()),
			Hidden:     p.Hidden,
			Following:  h.Following(p),
		}
		if !p.JoinedAt.IsZero() {
			entry.OnlineMs = now.Sub(p.JoinedAt).Milliseconds()
		}
		d.Players = append(d.Players, entry)
	}
	return d
}
