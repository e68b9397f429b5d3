// Package basestate defines the per-channel base-device fault state
// machine: NONE / FAULTY / FAULTY_STOPPED, and its transition rules.
package basestate

import "fmt"

// State is the per-channel fault-tracking state of one base device slot.
type State int

const (
	// None is the healthy state: no delta tracking in progress.
	None State = iota
	// Faulty means the base is under delta tracking: writes are marked
	// dirty in a per-channel bitmap.
	Faulty
	// FaultyStopped means delta tracking for this base was halted
	// (bitmap allocation failure) but the base is still considered
	// faulty; no further bits are recorded until cleared.
	FaultyStopped
)

func (s State) String() string {
	switch s {
	case None:
		return "NONE"
	case Faulty:
		return "FAULTY"
	case FaultyStopped:
		return "FAULTY_STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrBackwardTransition is returned when a FAULTY_STOPPED -> FAULTY
// hand-off is requested. This direction can only arise from a prior
// hot-path allocation failure and the caller must clear to None first.
var ErrBackwardTransition = fmt.Errorf("basestate: FAULTY_STOPPED cannot transition back to FAULTY")

// CanHandOff reports whether (from -> to) is a transition the channel
// hand-off protocol is willing to perform. The allocation/free side
// effects are the caller's responsibility (internal/channel wires
// them). It exists so the legal-transition table lives in one place.
func CanHandOff(from, to State) error {
	switch {
	case from == FaultyStopped && to == Faulty:
		return ErrBackwardTransition
	default:
		return nil
	}
}
