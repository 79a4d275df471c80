package server

import (
	"strings"

	"blockworld/server/internal/net/ext"
	"blockworld/server/internal/net/sender"
	"blockworld/server/internal/net/session"
	"blockworld/server/internal/world"
)

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SetBlock applies a client edit. Out-of-range edits and ids past the
// highest block the session may place are refused by resending the block
// that is really there.
func (h *Hub) SetBlock(s *session.Session, x, y, z int, place bool, block uint16) {
	c, ok := h.clientFor(s)
	if !ok {
		return
	}
	if !h.level.InBounds(x, y, z) {
		return
	}
	t := world.BlockAir
	if place {
		t = block
	}
	if place && !h.placeable(c, t) {
		c.send.Block(x, y, z, h.level.Block(x, y, z))
		return
	}
	if place {
		c.player.HeldBlock = t
		c.player.SetAttribute(attrHeldBlock, int(t))
	}
	h.ApplyBlock(x, y, z, t)
}

func (h *Hub) placeable(c *client, t uint16) bool {
	if t == world.BlockAir {
		return false
	}
	if t <= world.MaxOriginalBlock {
		return true
	}
	if t <= world.MaxCustomBlock {
		return c.send.Supports(ext.CustomBlocks, 1)
	}
	if _, ok := h.level.Definition(t); !ok {
		return false
	}
	return c.send.Supports(ext.BlockDefinitions, 1)
}

// ApplyBlock changes one block and queues the change for the next tick's
// broadcast. It reports whether the block changed.
func (h *Hub) ApplyBlock(x, y, z int, t uint16) bool {
	if !h.level.SetBlock(x, y, z, t) {
		return false
	}
	h.metrics.Add(blockChangesMetricKey, 1)
	h.pending = append(h.pending, sender.BlockChange{X: x, Y: y, Z: z, Type: t})
	return true
}

// Move records the client's reported placement. Other players see it on
// the next tick.
func (h *Hub) Move(s *session.Session, pos world.Position, rot world.Rotation) {
	c, ok := h.clientFor(s)
	if !ok {
		return
	}
	c.player.MoveTo(pos, rot)
}

// Chat assembles partial messages and relays the complete one to every
// player that does not ignore the speaker.
func (h *Hub) Chat(s *session.Session, message string, partial bool) {
	c, ok := h.clientFor(s)
	if !ok {
		return
	}
	full, complete := c.player.AppendChat(message, partial)
	if !complete {
		return
	}
	full = strings.TrimSpace(full)
	if full == "" {
		return
	}
	if h.hooks.OnChat != nil && h.hooks.OnChat(h, c.player, full) {
		return
	}
	line := c.player.ColoredName() + "&f: " + full
	for _, other := range h.readyClients() {
		if other.player.IsIgnored(c.player) {
			continue
		}
		other.send.Chat(line)
	}
}

// Broadcast sends a server message to every ready player.
func (h *Hub) Broadcast(message string) {
	for _, c := range h.readyClients() {
		c.send.Chat(message)
	}
}

// Message sends a server message to one player.
func (h *Hub) Message(p *world.Player, message string) bool {
	snd, ok := h.Sender(p)
	if !ok {
		return false
	}
	snd.Chat(message)
	return true
}

// Ignore toggles whether p ignores the named player and updates what p
// sees. It reports the new state.
func (h *Hub) Ignore(p *world.Player, name string) (bool, error) {
	target, ok := h.Player(name)
	if !ok || target == p {
		return false, world.ErrNotRegistered
	}
	ignored := p.ToggleIgnore(target.Name)
	if snd, ok := h.Sender(p); ok {
		if ignored {
			snd.RemoveEntity(target.ID)
		} else {
			snd.AddPlayer(p, target)
		}
	}
	return ignored, nil
}

// SetHidden shows or hides p from every other player.
func (h *Hub) SetHidden(p *world.Player, hidden bool) {
	if p.Hidden == hidden {
		return
	}
	p.Hidden = hidden
	for _, viewer := range h.readyClients() {
		if viewer.player == p {
			continue
		}
		if hidden {
			viewer.send.RemoveEntity(p.ID)
			continue
		}
		viewer.send.AddPlayer(viewer.player, p)
	}
}
