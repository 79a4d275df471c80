package sim

import "sync"

const (
	taskBufferOccupancyMetricKey = "sim_task_buffer_occupancy"
	taskBufferGrowthMetricKey    = "sim_task_buffer_growth_total"
)

// TaskBuffer stores pending tasks in a ring that doubles when full, so a push
// never fails and never drops work. It is safe for concurrent producers and a
// single consumer.
type TaskBuffer struct {
	mu      sync.Mutex
	data    []Task
	head    int
	tail    int
	count   int
	metrics telemetryMetrics
}

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// NewTaskBuffer constructs a ring with the provided initial capacity.
func NewTaskBuffer(capacity int, metrics telemetryMetrics) *TaskBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &TaskBuffer{
		data:    make([]Task, capacity),
		metrics: metrics,
	}
}

// Capacity reports the current size of the ring.
func (b *TaskBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Push appends a task, growing the ring if needed.
func (b *TaskBuffer) Push(task Task) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		b.growLocked()
	}
	b.data[b.tail] = task
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.storeOccupancyLocked()
}

func (b *TaskBuffer) growLocked() {
	grown := make([]Task, len(b.data)*2)
	for i := 0; i < b.count; i++ {
		grown[i] = b.data[(b.head+i)%len(b.data)]
	}
	b.data = grown
	b.head = 0
	b.tail = b.count
	if b.metrics != nil {
		b.metrics.Add(taskBufferGrowthMetricKey, 1)
	}
}

// Drain returns all pending tasks in FIFO order and clears the buffer.
func (b *TaskBuffer) Drain() []Task {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	tasks := make([]Task, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.data)
		tasks[i] = b.data[idx]
		b.data[idx] = nil
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	b.storeOccupancyLocked()
	return tasks
}

// Len reports the number of pending tasks.
func (b *TaskBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *TaskBuffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(taskBufferOccupancyMetricKey, uint64(b.count))
}
