package session

import (
	"fmt"

	"github.com/nicebartender/edi/errs"
)

// State is a supervisor lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Ready
	Streaming
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Streaming:
		return "streaming"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal moves. ShuttingDown is reachable from every
// state but Stopped and is handled separately.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Handshaking, Disconnected},
	Handshaking:  {Ready, Disconnected},
	Ready:        {Streaming},
	Streaming:    {Ready, Disconnected},
	ShuttingDown: {Stopped},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	if from == Stopped {
		return false
	}
	if to == ShuttingDown {
		return from != ShuttingDown
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return errs.Invalid(fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, from, to), "session", "transition")
}
