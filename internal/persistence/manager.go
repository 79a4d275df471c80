package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"blockworld/server/internal/sim"
	"blockworld/server/internal/telemetry"
	"blockworld/server/internal/world"
	"blockworld/server/logging"
	"blockworld/server/logging/lifecycle"
)

const (
	loadMetricKey         = "persistence_loads_total"
	saveMetricKey         = "persistence_saves_total"
	failureMetricKey      = "persistence_failures_total"
	deferredSaveMetricKey = "persistence_saves_deferred_total"
	skippedSaveMetricKey  = "persistence_saves_skipped_total"
)

// Direction distinguishes load and save requests.
type Direction int

const (
	DirectionLoad Direction = iota
	DirectionSave
)

func (d Direction) String() string {
	if d == DirectionSave {
		return "save"
	}
	return "load"
}

// Config tunes the worker pool.
type Config struct {
	Workers int
	// Timeout bounds each store call.
	Timeout time.Duration
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{Workers: 2, Timeout: 10 * time.Second}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// LoadedFunc runs on the world goroutine once a load has been applied (err
// is nil) or has failed.
type LoadedFunc func(p *world.Player, err error)

type playerState struct {
	player      *world.Player
	loading     bool
	failed      bool
	pendingSave bool
	released    bool
	// after runs once this state's load has been applied.
	after []func()
}

// Manager runs store requests on a fixed set of workers. Requests for the
// same player always land on the same worker, so they complete in the order
// they were queued. QueueLoad, QueueSave and Release must be called from the
// world goroutine; results come back as tasks pushed onto world.
type Manager struct {
	cfg       Config
	store     Store
	world     sim.Pusher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	workers []*sim.Queue
	// states is only touched on the world goroutine.
	states map[string]*playerState
}

// NewManager wires a manager around store. Results are delivered through
// worldQueue.
func NewManager(cfg Config, store Store, worldQueue sim.Pusher, logger telemetry.Logger, metrics telemetry.Metrics, publisher logging.Publisher) *Manager {
	cfg = cfg.normalized()
	if logger == nil {
		logger = telemetry.Discard
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	m := &Manager{
		cfg:       cfg,
		store:     store,
		world:     worldQueue,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		states:    make(map[string]*playerState),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.workers = append(m.workers, sim.NewQueue(sim.DefaultQueueConfig(), logger, nil))
	}
	return m
}

// Run executes worker queues until ctx ends or Close is called. Requests
// already queued are still carried out before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, worker := range m.workers {
		worker := worker
		group.Go(func() error { return worker.Run(groupCtx) })
	}
	return group.Wait()
}

// Close stops accepting requests and waits for the workers to finish what
// is queued, or for ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	for _, worker := range m.workers {
		worker.Close()
	}
	for _, worker := range m.workers {
		select {
		case <-worker.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) shard(key string) *sim.Queue {
	return m.workers[xxhash.Sum64String(key)%uint64(len(m.workers))]
}

func (m *Manager) state(p *world.Player) *playerState {
	key := strings.ToLower(p.Name)
	st, ok := m.states[key]
	if !ok || st.player != p {
		st = &playerState{player: p}
		m.states[key] = st
	}
	return st
}

// QueueLoad asks the store for the player's saved attributes. Saves queued
// before the load has been applied are held back until it has.
func (m *Manager) QueueLoad(p *world.Player, done LoadedFunc) error {
	if m == nil || p == nil {
		return nil
	}
	name := p.Name
	key := strings.ToLower(name)
	prev := m.states[key]
	st := m.state(p)
	st.loading = true
	st.failed = false
	dispatch := func() error {
		err := m.shard(key).PushFunc("load:"+key, func() {
			attrs, err := m.load(name)
			applyErr := m.world.Push(sim.Named("apply-load:"+key, func() {
				m.applyLoad(st, attrs, err, done)
			}))
			if applyErr != nil {
				m.logger.Printf("[persistence] dropping load result for %s: %v", name, applyErr)
			}
		})
		if err != nil {
			st.loading = false
			st.failed = true
			return fmt.Errorf("queue load for %s: %w", name, closedError(err))
		}
		return nil
	}
	// An earlier login of the same name may still hold a deferred final save.
	// The load is queued behind that save so it reads the newest snapshot.
	if prev != nil && prev != st && prev.loading {
		prev.after = append(prev.after, func() {
			if err := dispatch(); err != nil {
				m.logger.Printf("[persistence] %v", err)
				if done != nil {
					done(p, err)
				}
			}
		})
		return nil
	}
	return dispatch()
}

func closedError(err error) error {
	if errors.Is(err, sim.ErrQueueClosed) {
		return ErrClosed
	}
	return err
}

func (m *Manager) load(name string) (world.Attributes, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()
	attrs, err := m.store.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return world.Attributes{}, nil
	}
	return attrs, err
}

func (m *Manager) applyLoad(st *playerState, attrs world.Attributes, err error, done LoadedFunc) {
	p := st.player
	st.loading = false
	actor := logging.PlayerRef(p.Name)
	if err != nil {
		st.failed = true
		m.metrics.Add(failureMetricKey, 1)
		m.logger.Printf("[persistence] load failed for %s: %v", p.Name, err)
		lifecycle.PersistenceFailed(context.Background(), m.publisher, actor, lifecycle.PersistencePayload{
			Direction: DirectionLoad.String(),
			Error:     err.Error(),
		})
	} else {
		p.MergeAttributes(attrs, true)
		m.metrics.Add(loadMetricKey, 1)
		lifecycle.PlayerLoaded(context.Background(), m.publisher, actor, lifecycle.PersistencePayload{
			Direction:  DirectionLoad.String(),
			Attributes: len(attrs),
		})
	}
	if done != nil {
		done(p, err)
	}
	if st.pendingSave {
		st.pendingSave = false
		m.dispatchSave(st)
	}
	after := st.after
	st.after = nil
	for _, fn := range after {
		fn()
	}
	if st.released {
		m.forget(st)
	}
}

// QueueSave snapshots the player's attributes and writes them out. Players
// whose load failed are never saved, so a store outage cannot wipe their
// record.
func (m *Manager) QueueSave(p *world.Player) error {
	if m == nil || p == nil {
		return nil
	}
	st := m.state(p)
	if st.loading {
		st.pendingSave = true
		m.metrics.Add(deferredSaveMetricKey, 1)
		return nil
	}
	return m.dispatchSave(st)
}

// Release queues a final save and drops the player's bookkeeping once
// nothing is outstanding for it.
func (m *Manager) Release(p *world.Player) error {
	if m == nil || p == nil {
		return nil
	}
	st := m.state(p)
	err := m.QueueSave(p)
	st.released = true
	if !st.loading {
		m.forget(st)
	}
	return err
}

func (m *Manager) forget(st *playerState) {
	key := strings.ToLower(st.player.Name)
	if current, ok := m.states[key]; ok && current == st {
		delete(m.states, key)
	}
}

func (m *Manager) dispatchSave(st *playerState) error {
	p := st.player
	if st.failed {
		m.metrics.Add(skippedSaveMetricKey, 1)
		m.logger.Printf("[persistence] skipping save for %s: load failed", p.Name)
		return nil
	}
	name := p.Name
	key := strings.ToLower(name)
	snapshot := p.Attributes()
	err := m.shard(key).PushFunc("save:"+key, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
		defer cancel()
		actor := logging.PlayerRef(name)
		if err := m.store.Save(ctx, name, snapshot); err != nil {
			m.metrics.Add(failureMetricKey, 1)
			m.logger.Printf("[persistence] save failed for %s: %v", name, err)
			lifecycle.PersistenceFailed(ctx, m.publisher, actor, lifecycle.PersistencePayload{
				Direction: DirectionSave.String(),
				Error:     err.Error(),
			})
			return
		}
		m.metrics.Add(saveMetricKey, 1)
		lifecycle.PlayerSaved(ctx, m.publisher, actor, lifecycle.PersistencePayload{
			Direction:  DirectionSave.String(),
			Attributes: len(snapshot),
		})
	})
	if err != nil {
		return fmt.Errorf("queue save for %s: %w", name, closedError(err))
	}
	return nil
}

// Pending reports how many players have bookkeeping, for diagnostics. It
// must be called on the world goroutine.
func (m *Manager) Pending() int {
	if m == nil {
		return 0
	}
	return len(m.states)
}
