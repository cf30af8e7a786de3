package pocket

import "sync"

// ConnectionState mirrors the Runner's reconnection state machine (spec
// §4.2) for observers outside the transport package.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDraining
	StateDisconnected
	StateTerminated
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDraining:
		return "Draining"
	case StateDisconnected:
		return "Disconnected"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Signals is a broadcast-to-subscribers notifier for connection-state
// transitions, grounded on the teacher's stateChannel/contextIDChannel
// coordination point (saxo_websocket.go), generalized from a single fixed
// pair of channels to an arbitrary number of subscriber channels since the
// engine has no OAuth refresh loop to special-case.
type Signals struct {
	mu          sync.Mutex
	subscribers []chan ConnectionState
}

func NewSignals() *Signals { return &Signals{} }

// Subscribe returns a channel that receives every future state transition.
// The channel has a small buffer; a slow subscriber drops events rather than
// blocking the Runner.
func (s *Signals) Subscribe() <-chan ConnectionState {
	ch := make(chan ConnectionState, 8)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Publish notifies every subscriber of a new state, non-blocking.
func (s *Signals) Publish(state ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- state:
		default:
		}
	}
}
