package loop

import (
	"errors"
	"fmt"
)

// LoopError is the base error for loop failures. It carries a message and
// an optional underlying cause.
type LoopError struct {
	Message string
	Cause   error
}

func (e *LoopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// ConfigError reports invalid controller configuration. Fatal before the
// loop starts; the loop never transitions past construction.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "invalid config: " + e.Message
}

// InvalidStateError reports an operation attempted in a state that forbids
// it, such as resuming a loop that is not awaiting confirmation.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while loop is %s", e.Op, e.Status)
}

// MaxStepsError reports step-limit exhaustion: the loop ran its configured
// number of Plan phases without reaching an answer.
type MaxStepsError struct {
	Limit int
}

func (e *MaxStepsError) Error() string {
	return fmt.Sprintf("maximum steps (%d) reached without a final answer", e.Limit)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// IsMaxSteps reports whether err is a MaxStepsError.
func IsMaxSteps(err error) bool {
	var e *MaxStepsError
	return errors.As(err, &e)
}
