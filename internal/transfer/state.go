package transfer

import "fmt"

// State is the lifecycle position of a transfer.
type State int

const (
	StateAwaitingToken State = iota
	StateHeadersPending
	StateStreaming
	StateFinishing
	StatePostDecrypting
	// StateDone means an outcome was produced. Whether it reaches the
	// completion callback depends on a later Cancel, see Handle.Cancel.
	StateDone
	// StateCancelled means the transfer was abandoned without an outcome.
	StateCancelled
)

var stateNames = map[State]string{
	StateAwaitingToken:  "awaiting_token",
	StateHeadersPending: "headers_pending",
	StateStreaming:      "streaming",
	StateFinishing:      "finishing",
	StatePostDecrypting: "post_decrypting",
	StateDone:           "done",
	StateCancelled:      "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

// forward lists the non-terminal successor of each state. Every
// non-terminal state may also move to StateDone or StateCancelled.
var forward = map[State]State{
	StateAwaitingToken:  StateHeadersPending,
	StateHeadersPending: StateStreaming,
	StateStreaming:      StateFinishing,
	StateFinishing:      StatePostDecrypting,
}

func (s State) canTransition(to State) bool {
	if s.Terminal() {
		return false
	}

	if to.Terminal() {
		return true
	}

	next, ok := forward[s]

	return ok && next == to
}
