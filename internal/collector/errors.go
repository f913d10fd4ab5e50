package collector

import (
	"errors"
	"fmt"
)

// ErrAlreadyStarted is returned when Run or RunSingle is called on a
// collector that already ran. A Collector is single use.
var ErrAlreadyStarted = errors.New("collector already started")

// Phase is the part of a run in which a fault happened.
type Phase string

const (
	PhaseLaunch  Phase = "launch"
	PhaseVisit   Phase = "visit"
	PhaseCollect Phase = "collect"
)

// Error is an unexpected failure that aborted a collection run.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("collection failed during %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
