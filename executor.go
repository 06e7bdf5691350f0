package docsync

// Executor runs endpoint work off the caller's goroutine.
type Executor interface {
	Go(task func())
}

type (
	// GoExecutor starts one goroutine per task.
	GoExecutor struct{}

	// InlineExecutor runs the task on the calling goroutine. It is meant for
	// results whose value is already known.
	InlineExecutor struct{}

	// Pool runs tasks on goroutines, at most n at a time. Tasks over the limit
	// wait on their own goroutine so Go never blocks the caller.
	Pool struct {
		slots chan struct{}
	}
)

func (GoExecutor) Go(task func()) { go task() }

func (InlineExecutor) Go(task func()) { task() }

// NewPool returns a pool running at most n tasks concurrently. n < 1 means 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{slots: make(chan struct{}, n)}
}

func (p *Pool) Go(task func()) {
	go func() {
		p.slots <- struct{}{}
		defer func() { <-p.slots }()
		task()
	}()
}
