package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ztrue/tracerr"

	"blockworld/server/internal/telemetry"
)

const (
	taskExecutedMetricKey = "sim_tasks_executed_total"
	taskFailedMetricKey   = "sim_tasks_failed_total"
	taskPanicMetricKey    = "sim_tasks_panicked_total"
)

// ErrQueueClosed is returned by Push once the queue has stopped.
var ErrQueueClosed = errors.New("task queue closed")

// QueueConfig tunes the task queue.
type QueueConfig struct {
	InitialCapacity int
}

// DefaultQueueConfig returns the queue defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{InitialCapacity: 256}
}

// Pusher is the producer side of the queue.
type Pusher interface {
	Push(Task) error
}

// Queue serializes every world mutation onto the single goroutine running
// Run. Producers on any goroutine call Push; tasks execute in push order,
// one at a time. A failing or panicking task is logged and counted and the
// queue moves on.
type Queue struct {
	buffer  *TaskBuffer
	signal  chan struct{}
	stop    chan struct{}
	logger  telemetry.Logger
	metrics telemetry.Metrics

	closeOnce sync.Once
	running   atomic.Bool
	done      chan struct{}

	// gate orders Push against shutdown so no task lands after the final
	// drain.
	gate   sync.RWMutex
	closed bool
}

// NewQueue builds an idle queue. Run must be called to start executing.
func NewQueue(cfg QueueConfig, logger telemetry.Logger, metrics telemetry.Metrics) *Queue {
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultQueueConfig().InitialCapacity
	}
	if logger == nil {
		logger = telemetry.Discard
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Queue{
		buffer:  NewTaskBuffer(cfg.InitialCapacity, metrics),
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Push enqueues a task. It never blocks on the consumer.
func (q *Queue) Push(task Task) error {
	if q == nil {
		return ErrQueueClosed
	}
	if task == nil {
		return nil
	}
	q.gate.RLock()
	if q.closed {
		q.gate.RUnlock()
		return ErrQueueClosed
	}
	q.buffer.Push(task)
	q.gate.RUnlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// PushFunc enqueues a labelled function.
func (q *Queue) PushFunc(name string, fn func()) error {
	return q.Push(Named(name, fn))
}

// Do runs fn on the queue goroutine and waits for it to finish. It must
// not be called from a task.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := q.PushFunc("sync", func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-q.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrQueueClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of tasks waiting to run.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return q.buffer.Len()
}

// Run executes tasks until ctx ends or Close is called, then runs whatever
// was already queued and returns.
func (q *Queue) Run(ctx context.Context) error {
	if q == nil {
		return nil
	}
	if !q.running.CompareAndSwap(false, true) {
		return errors.New("task queue already running")
	}
	defer close(q.done)
	for {
		if tasks := q.buffer.Drain(); len(tasks) > 0 {
			for _, task := range tasks {
				q.execute(task)
			}
			continue
		}
		select {
		case <-q.signal:
		case <-q.stop:
			q.shutdown()
			return nil
		case <-ctx.Done():
			q.shutdown()
			return nil
		}
	}
}

// Close stops accepting tasks. Run drains what is already queued.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		q.gate.Lock()
		q.closed = true
		q.gate.Unlock()
		close(q.stop)
	})
}

// Done is closed once Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) shutdown() {
	q.gate.Lock()
	q.closed = true
	q.gate.Unlock()
	for {
		tasks := q.buffer.Drain()
		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			q.execute(task)
		}
	}
}

func (q *Queue) execute(task Task) {
	name := taskName(task)
	defer func() {
		if r := recover(); r != nil {
			err := tracerr.Wrap(fmt.Errorf("panic: %v", r))
			q.metrics.Add(taskPanicMetricKey, 1)
			q.logger.Printf("[queue] task %s panicked: %s", name, tracerr.Sprint(err))
		}
	}()
	if err := task.Execute(); err != nil {
		q.metrics.Add(taskFailedMetricKey, 1)
		q.logger.Printf("[queue] task %s failed: %v", name, err)
	}
	q.metrics.Add(taskExecutedMetricKey, 1)
}
