package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"blockworld/server/internal/telemetry"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func startQueue(t *testing.T, logger telemetry.Logger, metrics telemetry.Metrics) (*Queue, context.CancelFunc) {
	t.Helper()
	queue := NewQueue(QueueConfig{InitialCapacity: 4}, logger, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = queue.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-queue.Done()
	})
	return queue, cancel
}

func TestQueueExecutesConcurrentPushesInOrderOnce(t *testing.T) {
	queue, _ := startQueue(t, nil, nil)

	const producers = 8
	const perProducer = 250
	seen := make(map[int][]int, producers)
	var total int

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := queue.PushFunc("count", func() {
					// Runs on the queue goroutine only, so no locking.
					seen[p] = append(seen[p], i)
					total++
				}); err != nil {
					t.Errorf("push failed: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	var gotTotal int
	var perProducerOrder map[int][]int
	if err := queue.Do(context.Background(), func() {
		gotTotal = total
		perProducerOrder = seen
	}); err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if gotTotal != producers*perProducer {
		t.Fatalf("expected %d executions, got %d", producers*perProducer, gotTotal)
	}
	for p, order := range perProducerOrder {
		for i, v := range order {
			if v != i {
				t.Fatalf("producer %d: expected push order, got %d at %d", p, v, i)
			}
		}
	}
}

func TestQueueSurvivesFailingAndPanickingTasks(t *testing.T) {
	logger := &recordingLogger{}
	counters := telemetry.NewCounters()
	queue, _ := startQueue(t, logger, counters)

	_ = queue.Push(NamedTask{Name: "broken", Fn: func() error { return errors.New("boom") }})
	_ = queue.PushFunc("explodes", func() { panic("kaboom") })
	ran := false
	if err := queue.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if !ran {
		t.Fatalf("expected task after failures to run")
	}
	if !logger.contains("task broken failed: boom") {
		t.Fatalf("expected failure to be logged, got %v", logger.lines)
	}
	if !logger.contains("task explodes panicked") || !logger.contains("kaboom") {
		t.Fatalf("expected panic to be logged, got %v", logger.lines)
	}
	if counters.Load(taskPanicMetricKey) != 1 || counters.Load(taskFailedMetricKey) != 1 {
		t.Fatalf("unexpected counters: %v", counters.Snapshot())
	}
}

func TestQueueWriteVisibleToLaterTasks(t *testing.T) {
	queue, _ := startQueue(t, nil, nil)
	state := map[string]int{}
	var sameTask, laterTask int
	_ = queue.PushFunc("write", func() {
		state["block"] = 7
		sameTask = state["block"]
	})
	if err := queue.Do(context.Background(), func() { laterTask = state["block"] }); err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if sameTask != 7 || laterTask != 7 {
		t.Fatalf("expected both reads to see 7, got %d and %d", sameTask, laterTask)
	}
}

func TestQueueCloseDrainsAndRejects(t *testing.T) {
	queue := NewQueue(DefaultQueueConfig(), nil, nil)
	ran := 0
	for i := 0; i < 3; i++ {
		_ = queue.PushFunc("pending", func() { ran++ })
	}
	queue.Close()
	if err := queue.PushFunc("late", func() { ran += 100 }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := queue.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if ran != 3 {
		t.Fatalf("expected queued tasks to drain, got %d", ran)
	}
	select {
	case <-queue.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected done to be closed")
	}
}

func TestQueueRejectsSecondRun(t *testing.T) {
	queue, _ := startQueue(t, nil, nil)
	if err := queue.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if err := queue.Run(context.Background()); err == nil {
		t.Fatalf("expected a second Run to fail")
	}
}
