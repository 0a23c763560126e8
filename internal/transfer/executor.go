package transfer

import "sync"

// Executor runs callbacks. Implementations must run tasks in submission order
// and must not run them on the calling goroutine, otherwise callbacks could
// fire from inside Coordinator.Start.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor. The function must keep the
// Executor ordering contract: forwarding to a SerialExecutor does, while
// starting a goroutine per task does not and lets progress arrive out of
// order or after completion.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) { f(task) }

// SerialExecutor runs tasks one at a time, in order, on its own goroutine.
// Submitting never blocks.
type SerialExecutor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	go e.run()

	return e
}

// Execute queues task. Tasks submitted after Close are dropped.
func (e *SerialExecutor) Execute(task func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return
	}

	e.queue = append(e.queue, task)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close runs the tasks already queued and stops the executor. It must not be
// called from a task.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}

	<-e.done
}

func (e *SerialExecutor) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.mu.Unlock()
			<-e.wake
			e.mu.Lock()
		}

		batch := e.queue
		e.queue = nil
		closed := e.closed
		e.mu.Unlock()

		for _, task := range batch {
			task()
		}

		if closed && len(batch) == 0 {
			return
		}
	}
}
