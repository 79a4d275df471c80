package server

import (
	"context"

	"blockworld/server/internal/net/ext"
	"blockworld/server/internal/net/session"
	"blockworld/server/internal/sim"
	"blockworld/server/internal/world"
)

// Tick is the loop hook. It flushes block changes, broadcasts movement and
// runs the periodic pings and checkpoints.
func (h *Hub) Tick(tc sim.LoopTickContext) {
	h.tick = tc.Tick
	h.flushBlocks()
	h.broadcastMovement()

	now := tc.Now
	if now.Sub(h.lastPing) >= h.cfg.PingInterval {
		h.lastPing = now
		h.ping()
	}
	if h.lastCheckpoint.IsZero() {
		h.lastCheckpoint = now
	} else if now.Sub(h.lastCheckpoint) >= h.cfg.CheckpointInterval {
		h.lastCheckpoint = now
		h.Checkpoint()
	}
}

func (h *Hub) flushBlocks() {
	if len(h.pending) == 0 {
		return
	}
	changes := h.pending
	h.pending = nil
	for _, c := range h.clients {
		if c.ready {
			c.send.BlockUpdates(h.level, changes)
			continue
		}
		c.missed = append(c.missed, changes...)
	}
}

func (h *Hub) broadcastMovement() {
	ready := h.readyClients()
	for _, mover := range ready {
		p := mover.player
		if p.Position == p.OldPosition && p.Rotation == p.OldRotation {
			continue
		}
		for _, viewer := range ready {
			if viewer == mover || !viewer.player.CanSee(p) {
				continue
			}
			viewer.send.UpdateEntity(p)
		}
		p.Settle()
	}
}

func (h *Hub) ping() {
	h.pingSeq = (h.pingSeq + 1) & 0xFFFF
	for _, c := range h.readyClients() {
		if c.send.Supports(ext.TwoWayPing, 1) {
			c.send.TwoWayPing(true, h.pingSeq)
			continue
		}
		c.send.Ping()
	}
}

// Checkpoint queues a save for every ready player.
func (h *Hub) Checkpoint() {
	if h.persistence == nil {
		return
	}
	for _, c := range h.readyClients() {
		if err := h.persistence.QueueSave(c.player); err != nil {
			h.logger.Printf("[hub] checkpoint: %v", err)
		}
	}
}

func followKey(p *world.Player) string {
	return "follow:" + normalizeName(p.Name)
}

// Follow keeps follower teleporting to the named target until either leaves
// or Unfollow is called.
func (h *Hub) Follow(follower *world.Player, target string) error {
	c := h.byPlayer[follower]
	if c == nil || !c.ready {
		return world.ErrNotRegistered
	}
	t, ok := h.Player(target)
	if !ok || t == follower {
		return world.ErrNotRegistered
	}
	s := c.session
	targetName := t.Name
	h.supervisor.Start(followKey(follower), h.cfg.FollowInterval, func(ctx context.Context) {
		_ = h.queue.Push(sim.Named("follow", func() {
			if ctx.Err() != nil {
				return
			}
			h.followStep(s, targetName)
		}))
	})
	return nil
}

// Unfollow stops follower's follow behaviour, reporting whether one ran.
func (h *Hub) Unfollow(follower *world.Player) bool {
	return h.supervisor.Stop(followKey(follower))
}

// Following reports whether follower has a follow behaviour running.
func (h *Hub) Following(follower *world.Player) bool {
	return h.supervisor.Running(followKey(follower))
}

func (h *Hub) followStep(s *session.Session, targetName string) {
	c, ok := h.clientFor(s)
	if !ok || !s.Live() {
		return
	}
	target, ok := h.Player(targetName)
	if !ok {
		h.supervisor.Stop(followKey(c.player))
		h.Message(c.player, "&e"+targetName+" is no longer online")
		return
	}
	if c.player.Position == target.Position {
		return
	}
	c.player.MoveTo(target.Position, target.Rotation)
	c.send.Teleport(target.Position, target.Rotation)
}
