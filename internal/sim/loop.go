package sim

import (
	"context"
	"sync/atomic"
	"time"

	"blockworld/server/internal/telemetry"
	"blockworld/server/logging"
)

const tickSkippedMetricKey = "sim_tick_skipped_total"

// LoopConfig tunes the fixed-timestep tick producer.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
}

// DefaultLoopConfig returns the loop defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{TickRate: 20, CatchupMaxTicks: 4}
}

// LoopTickContext describes one tick as seen by hooks.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult reports how a tick went.
type LoopStepResult struct {
	Tick         uint64
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
}

// LoopHooks are invoked on the queue goroutine from inside the tick task.
type LoopHooks struct {
	OnTick    func(LoopTickContext)
	AfterStep func(LoopStepResult)
}

// Loop pushes one tick task per period onto the queue. Hooks therefore run
// serialized with every other task. A tick is skipped when the previous one
// has not executed yet so a slow world does not build a backlog of ticks.
type Loop struct {
	queue   Pusher
	hooks   LoopHooks
	config  LoopConfig
	clock   logging.Clock
	metrics telemetry.Metrics

	tick    atomic.Uint64
	pending atomic.Bool
}

// NewLoop builds a tick producer feeding queue.
func NewLoop(queue Pusher, cfg LoopConfig, hooks LoopHooks, clock logging.Clock, metrics telemetry.Metrics) *Loop {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultLoopConfig().TickRate
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Loop{queue: queue, hooks: hooks, config: cfg, clock: clock, metrics: metrics}
}

// Tick reports the number of the last tick that ran.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	return l.tick.Load()
}

// Run drives the fixed-timestep loop until ctx ends or the queue closes.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil {
		return nil
	}
	tickRate := l.config.TickRate
	budgetDuration := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(budgetDuration)
	defer ticker.Stop()

	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	last := l.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !l.pending.CompareAndSwap(false, true) {
				l.metrics.Add(tickSkippedMetricKey, 1)
				continue
			}
			now := l.clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			if err := l.queue.Push(l.tickTask(LoopTickContext{Now: now, Delta: dt}, budgetDuration, clamped, maxDt)); err != nil {
				return nil
			}
		}
	}
}

func (l *Loop) tickTask(tc LoopTickContext, budget time.Duration, clamped bool, maxDt float64) Task {
	return Named("tick", func() {
		defer l.pending.Store(false)
		tc.Tick = l.tick.Add(1)
		start := l.clock.Now()
		if l.hooks.OnTick != nil {
			l.hooks.OnTick(tc)
		}
		if l.hooks.AfterStep != nil {
			l.hooks.AfterStep(LoopStepResult{
				Tick:         tc.Tick,
				Duration:     l.clock.Now().Sub(start),
				Budget:       budget,
				ClampedDelta: clamped,
				MaxDelta:     maxDt,
			})
		}
	})
}
