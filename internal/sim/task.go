package sim

// Task is one unit of deferred world mutation. Tasks run exactly once, on the
// queue's goroutine, in push order.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function into a Task.
type TaskFunc func() error

// Execute implements Task.
func (f TaskFunc) Execute() error {
	if f == nil {
		return nil
	}
	return f()
}

// NamedTask is a Task carrying a label used in logs and metrics.
type NamedTask struct {
	Name string
	Fn   func() error
}

// Execute implements Task.
func (t NamedTask) Execute() error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn()
}

// TaskName implements the labelling hook read by the queue.
func (t NamedTask) TaskName() string { return t.Name }

// Named wraps fn, which cannot fail, as a labelled task.
func Named(name string, fn func()) Task {
	return NamedTask{Name: name, Fn: func() error {
		fn()
		return nil
	}}
}

func taskName(t Task) string {
	if named, ok := t.(interface{ TaskName() string }); ok && named.TaskName() != "" {
		return named.TaskName()
	}
	return "anonymous"
}
