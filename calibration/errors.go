package calibration

import (
	"errors"
	"fmt"
)

// ErrDegenerateWindow indicates a sample window with identical minimum
// and maximum on an axis; no scale can be fitted to it.
var ErrDegenerateWindow = errors.New("calibration: degenerate sample window")

// PhaseError reports which autobalance phase failed. The run is discarded
// and the sequencer is back at NotStarted when this error surfaces.
type PhaseError struct {
	Phase State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("calibration: phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// TransitionError reports an operation invoked out of sequence.
type TransitionError struct {
	From State
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("calibration: %s not allowed from state %s", e.Op, e.From)
}

// OrientationError reports a malformed orientation response payload.
type OrientationError struct {
	Got, Want int
}

func (e *OrientationError) Error() string {
	return fmt.Sprintf("calibration: orientation payload has %d bytes, need %d", e.Got, e.Want)
}
