package transfer

import (
	"context"
	"sync"
)

// Progress is one progress notification.
type Progress struct {
	// Written counts bytes of the resource on disk, resume offset included.
	Written int64
	Total   int64
	// Fraction is Written/Total in [0,1]. It never decreases within a transfer.
	Fraction float64
}

// Result is the outcome of a transfer: the final file path, or the failure.
type Result struct {
	Path string
	Err  error
}

// ProgressFunc receives progress notifications on the request's executor.
type ProgressFunc func(Progress)

// CompletionFunc receives the outcome on the request's executor, at most
// once, after every progress notification of the same transfer.
type CompletionFunc func(Result)

// Handle controls one started transfer.
type Handle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	cancelled bool
	delivered bool
	result    Result
}

func newHandle(id string, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateAwaitingToken,
	}
}

// ID returns the request ID of the transfer.
func (h *Handle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Done is closed once the transfer reached StateDone or StateCancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome produced by the transfer. It is only meaningful
// once Done is closed and State is StateDone.
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.result
}

// Cancelled reports whether Cancel, or the end of the context given to
// Coordinator.Start, abandoned the transfer before its outcome was delivered.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.cancelled
}

// Cancel abandons the transfer. It is idempotent and safe to call from any
// goroutine. Once the completion callback has run, Cancel does nothing. If
// an outcome was produced but not yet delivered, its delivery is suppressed.
// Callbacks already queued on the executor observe the cancel and do not
// run the caller's function.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.delivered || h.cancelled {
		h.mu.Unlock()

		return
	}

	h.cancelled = true

	if !h.state.Terminal() {
		h.state = StateCancelled
	}
	h.mu.Unlock()

	h.cancel()
}

// advance moves to the next state. It fails once the transfer was cancelled.
func (h *Handle) advance(to State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.canTransition(to) {
		return false
	}

	h.state = to

	return true
}

// settle records the outcome and reports whether it should be delivered.
func (h *Handle) settle(res Result, cancelled bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cancelled && !h.cancelled {
		h.cancelled = true
	}

	if h.cancelled {
		if !h.state.Terminal() {
			h.state = StateCancelled
		}

		return false
	}

	h.state = StateDone
	h.result = res

	return true
}

// live reports whether callbacks may still be delivered.
func (h *Handle) live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return !h.cancelled && !h.delivered
}

// deliver marks the outcome delivered, unless the transfer was cancelled
// meanwhile.
func (h *Handle) deliver() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancelled || h.delivered {
		return false
	}

	h.delivered = true

	return true
}
