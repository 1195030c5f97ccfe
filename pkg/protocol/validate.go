package protocol

import (
	"errors"
	"math"
)

// MaxInputStep caps the step duration of a single command so a client cannot
// cover arbitrary distance by inflating dt. Generous enough for a stalled
// client frame, far below anything useful for cheating.
const MaxInputStep = 0.25

// axisTolerance absorbs floating-point rounding on clients that normalize
// diagonal movement.
const axisTolerance = 1e-6

var (
	ErrMissingMovement = errors.New("input: missing movement vector")
	ErrMovementRange   = errors.New("input: movement axis out of range")
	ErrNotFinite       = errors.New("input: movement axis not finite")
	ErrStepDuration    = errors.New("input: step duration out of range")
)

// ValidateInput rejects malformed or out-of-range input commands before they
// can reach the simulation. It is the sole checkpoint for input shape;
// position plausibility is enforced by the simulation's clamping and the
// shared speed constant. Pure predicate, no side effects.
func ValidateInput(in Input) error {
	if in.Movement == nil {
		return ErrMissingMovement
	}
	for _, axis := range [...]float64{in.Movement.X, in.Movement.Y} {
		if math.IsNaN(axis) || math.IsInf(axis, 0) {
			return ErrNotFinite
		}
		if math.Abs(axis) > 1+axisTolerance {
			return ErrMovementRange
		}
	}
	if math.IsNaN(in.DT) || in.DT <= 0 || in.DT > MaxInputStep {
		return ErrStepDuration
	}
	return nil
}
