// Package server holds the Hub: the world-side half of every session. It
// admits logins, streams the level, keeps every ready client in sync and
// runs the per-tick housekeeping. Every exported method that touches world
// state runs on the world goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blockworld/server/internal/net/intake"
	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/net/sender"
	"blockworld/server/internal/net/session"
	"blockworld/server/internal/persistence"
	"blockworld/server/internal/sim"
	"blockworld/server/internal/telemetry"
	"blockworld/server/internal/world"
	"blockworld/server/logging"
	"blockworld/server/logging/lifecycle"
)

const (
	loginsMetricKey        = "hub_logins_total"
	loginRejectedMetricKey = "hub_logins_rejected_total"
	playersMetricKey       = "hub_players"
	blockChangesMetricKey  = "hub_block_changes_total"
)

// Disconnect reasons decided by the hub.
const (
	ReasonServerFull   = "Server full"
	ReasonDuplicate    = "Logged in from another location"
	ReasonLevelFailure = "Could not send the level"
)

// HubConfig tunes the hub.
type HubConfig struct {
	ServerName         string
	MOTD               string
	PingInterval       time.Duration
	CheckpointInterval time.Duration
	FollowInterval     time.Duration
	// Operators lists names that log in with operator rights.
	Operators []string
}

// DefaultHubConfig returns the hub defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ServerName:         "Blockworld",
		MOTD:               "Welcome!",
		PingInterval:       2 * time.Second,
		CheckpointInterval: 5 * time.Minute,
		FollowInterval:     time.Second,
	}
}

func (c HubConfig) normalized() HubConfig {
	def := DefaultHubConfig()
	if c.ServerName == "" {
		c.ServerName = def.ServerName
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = def.CheckpointInterval
	}
	if c.FollowInterval <= 0 {
		c.FollowInterval = def.FollowInterval
	}
	return c
}

// Persistence is the part of the persistence manager the hub drives.
type Persistence interface {
	QueueLoad(p *world.Player, done persistence.LoadedFunc) error
	QueueSave(p *world.Player) error
	Release(p *world.Player) error
}

// HubHooks let game rules observe and intercept player activity. Hooks run
// on the world goroutine.
type HubHooks struct {
	// OnJoin runs once a player has finished loading the level.
	OnJoin func(h *Hub, p *world.Player)
	// OnChat may consume a complete chat message by returning true.
	OnChat func(h *Hub, p *world.Player, message string) bool
	// OnLeave runs before a ready player's removal is broadcast.
	OnLeave func(h *Hub, p *world.Player, reason string)
}

// HubDeps carries the hub's collaborators.
type HubDeps struct {
	Queue       sim.Pusher
	Level       *world.Level
	Registry    *world.Registry
	Outgoing    *proto.Codec
	Persistence Persistence
	Supervisor  *sim.Supervisor
	Hooks       HubHooks
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Publisher   logging.Publisher
}

// client is one admitted session. Fields are owned by the world goroutine.
type client struct {
	session *session.Session
	player  *world.Player
	send    *sender.Sender
	ready   bool
	// missed holds block changes made while the level was streaming.
	missed []sender.BlockChange
}

// Hub implements intake.World.
type Hub struct {
	cfg         HubConfig
	queue       sim.Pusher
	level       *world.Level
	registry    *world.Registry
	out         *proto.Codec
	persistence Persistence
	supervisor  *sim.Supervisor
	hooks       HubHooks
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	publisher   logging.Publisher
	operators   map[string]struct{}

	clients  map[*session.Session]*client
	byPlayer map[*world.Player]*client
	pending  []sender.BlockChange

	tick           uint64
	lastPing       time.Time
	lastCheckpoint time.Time
	pingSeq        int
}

var _ intake.World = (*Hub)(nil)

// NewHub wires a hub. Level and Queue are required.
func NewHub(cfg HubConfig, deps HubDeps) (*Hub, error) {
	if deps.Queue == nil {
		return nil, errors.New("hub: queue is required")
	}
	if deps.Level == nil {
		return nil, errors.New("hub: level is required")
	}
	cfg = cfg.normalized()
	if deps.Registry == nil {
		deps.Registry = world.NewRegistry(world.MaxEntities)
	}
	if deps.Outgoing == nil {
		_, deps.Outgoing = proto.DefaultTables().Codecs()
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.Discard
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Supervisor == nil {
		deps.Supervisor = sim.NewSupervisor(deps.Logger, 0)
	}
	operators := make(map[string]struct{}, len(cfg.Operators))
	for _, name := range cfg.Operators {
		operators[normalizeName(name)] = struct{}{}
	}
	return &Hub{
		cfg:         cfg,
		queue:       deps.Queue,
		level:       deps.Level,
		registry:    deps.Registry,
		out:         deps.Outgoing,
		persistence: deps.Persistence,
		supervisor:  deps.Supervisor,
		hooks:       deps.Hooks,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		publisher:   deps.Publisher,
		operators:   operators,
		clients:     make(map[*session.Session]*client),
		byPlayer:    make(map[*world.Player]*client),
	}, nil
}

// Level returns the shared level.
func (h *Hub) Level() *world.Level { return h.level }

// Registry returns the player registry.
func (h *Hub) Registry() *world.Registry { return h.registry }

// Login admits a validated identification: it registers the player, sends
// the server identification and streams the level. The rest of the join runs
// once the session has written the last level chunk.
func (h *Hub) Login(s *session.Session, login intake.Login) {
	snd := sender.New(h.out, s, s.Capabilities(), h.logger)
	if existing, ok := h.registry.Lookup(login.Name); ok {
		if old := h.byPlayer[existing]; old != nil {
			h.logger.Printf("[hub] %s logged in again, dropping session %s", login.Name, old.session.ID())
			old.session.Close(ReasonDuplicate)
			h.leave(old, ReasonDuplicate)
		}
	}

	p := world.NewPlayer(login.Name)
	_, p.Operator = h.operators[normalizeName(login.Name)]
	if err := h.registry.Add(p); err != nil {
		h.metrics.Add(loginRejectedMetricKey, 1)
		reason := ReasonServerFull
		if !errors.Is(err, world.ErrServerFull) {
			reason = err.Error()
		}
		snd.LoginFailure(reason)
		return
	}
	c := &client{session: s, player: p, send: snd}
	h.clients[s] = c
	h.byPlayer[p] = c
	h.metrics.Add(loginsMetricKey, 1)
	h.metrics.Store(playersMetricKey, uint64(h.registry.Len()))

	snd.LoginResponse(h.cfg.ServerName, h.cfg.MOTD, p.Operator)
	s.Advance(session.StageAuthenticated)
	snd.CustomBlockSupport(1)
	if err := snd.StreamLevel(h.level); err != nil {
		h.logger.Printf("[hub] streaming level to %s failed: %v", p.Name, err)
		s.Close(ReasonLevelFailure)
		return
	}
	s.Barrier(func() {
		if err := h.queue.Push(sim.Named("level-finish", func() { h.finishJoin(s) })); err != nil {
			s.Close(session.ReasonShuttingDown)
		}
	})
}

// finishJoin runs after every level chunk has been written to the session.
func (h *Hub) finishJoin(s *session.Session) {
	c, ok := h.clients[s]
	if !ok || !s.Live() || c.ready {
		return
	}
	p, snd := c.player, c.send
	snd.LevelFinish(h.level)
	snd.MapColors(h.level)
	snd.MapAspect(h.level)
	for _, def := range h.level.Definitions {
		snd.DefineBlockExt(def)
	}
	snd.HackControl(true)
	if len(c.missed) > 0 {
		snd.BlockUpdates(h.level, c.missed)
		c.missed = nil
	}

	p.Place(h.level.SpawnPosition, h.level.SpawnRotation)
	p.JoinedAt = time.Now()
	snd.SpawnSelf(p, p.Position, p.Rotation)
	for _, other := range h.readyClients() {
		snd.AddPlayer(p, other.player)
		other.send.AddPlayer(other.player, p)
	}
	c.ready = true
	s.Advance(session.StageReady)

	if h.persistence != nil {
		if err := h.persistence.QueueLoad(p, h.playerLoaded); err != nil {
			h.logger.Printf("[hub] %v", err)
		}
	}
	lifecycle.PlayerJoined(context.Background(), h.publisher, h.tick, logging.PlayerRef(p.Name), lifecycle.PlayerJoinedPayload{
		EntityID:   p.ID,
		SpawnX:     p.Position.X,
		SpawnY:     p.Position.Y,
		SpawnZ:     p.Position.Z,
		Extensions: len(s.Capabilities().Negotiated()),
	}, map[string]any{"session": s.ID()})
	h.Broadcast(fmt.Sprintf("&e%s joined the game", p.ColoredName()))
	if h.hooks.OnJoin != nil {
		h.hooks.OnJoin(h, p)
	}
}

// playerLoaded runs once saved attributes have been merged into p.
func (h *Hub) playerLoaded(p *world.Player, err error) {
	if err != nil {
		return
	}
	p.SetAttribute(attrLogins, p.Attributes().Int(attrLogins)+1)
	c := h.byPlayer[p]
	if c == nil {
		return
	}
	if held := p.Attributes().Int(attrHeldBlock); held > 0 {
		c.send.HoldThis(uint16(held), false)
	}
}

// Persisted attribute keys owned by the hub.
const (
	attrLogins    = "logins"
	attrHeldBlock = "held_block"
)

// Disconnect removes the session's player, if it got that far.
func (h *Hub) Disconnect(s *session.Session, reason string) {
	c, ok := h.clients[s]
	if !ok {
		return
	}
	h.leave(c, reason)
}

func (h *Hub) leave(c *client, reason string) {
	p := c.player
	delete(h.clients, c.session)
	delete(h.byPlayer, p)
	h.supervisor.Stop(followKey(p))
	if c.ready {
		if h.hooks.OnLeave != nil {
			h.hooks.OnLeave(h, p, reason)
		}
		for _, other := range h.readyClients() {
			other.send.RemovePlayer(p)
		}
		if h.persistence != nil {
			if err := h.persistence.Release(p); err != nil {
				h.logger.Printf("[hub] %v", err)
			}
		}
		lifecycle.PlayerDisconnected(context.Background(), h.publisher, h.tick, logging.PlayerRef(p.Name), lifecycle.PlayerDisconnectedPayload{
			Reason: reason,
		}, nil)
		h.Broadcast(fmt.Sprintf("&e%s left the game", p.ColoredName()))
	}
	h.registry.Remove(p)
	h.metrics.Store(playersMetricKey, uint64(h.registry.Len()))
}

// readyClients lists clients that finished joining, ordered by entity id.
func (h *Hub) readyClients() []*client {
	out := make([]*client, 0, len(h.clients))
	for _, p := range h.registry.Players() {
		if c := h.byPlayer[p]; c != nil && c.ready {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) clientFor(s *session.Session) (*client, bool) {
	c, ok := h.clients[s]
	if !ok || !c.ready {
		return nil, false
	}
	return c, true
}

// Player looks up a ready player by name.
func (h *Hub) Player(name string) (*world.Player, bool) {
	p, ok := h.registry.Lookup(name)
	if !ok {
		return nil, false
	}
	if c := h.byPlayer[p]; c == nil || !c.ready {
		return nil, false
	}
	return p, true
}

// Sender returns the sender for a ready player.
func (h *Hub) Sender(p *world.Player) (*sender.Sender, bool) {
	c := h.byPlayer[p]
	if c == nil || !c.ready {
		return nil, false
	}
	return c.send, true
}
