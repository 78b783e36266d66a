package loop

import (
	"errors"
	"fmt"
	"testing"
)

func TestLoopErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &LoopError{Message: "decision service failed at step 2", Cause: cause}

	if err.Error() != "decision service failed at step 2: connection refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to unwrap")
	}

	bare := &LoopError{Message: "no cause"}
	if bare.Error() != "no cause" {
		t.Errorf("unexpected message %q", bare.Error())
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Message: "decision client is required"}
	if err.Error() != "invalid config: decision client is required" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestInvalidStateError(t *testing.T) {
	err := &InvalidStateError{Op: "resume", Status: StatusCompleted}
	if err.Error() != "cannot resume while loop is completed" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !IsInvalidState(err) {
		t.Error("expected IsInvalidState to match")
	}
	if IsInvalidState(errors.New("other")) {
		t.Error("IsInvalidState matched an unrelated error")
	}
	if IsMaxSteps(err) {
		t.Error("IsMaxSteps matched an invalid-state error")
	}

	wrapped := fmt.Errorf("running loop: %w", err)
	if !IsInvalidState(wrapped) {
		t.Error("expected IsInvalidState to match through wrapping")
	}
}

func TestMaxStepsError(t *testing.T) {
	err := &MaxStepsError{Limit: 3}
	if err.Error() != "maximum steps (3) reached without a final answer" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !IsMaxSteps(err) {
		t.Error("expected IsMaxSteps to match")
	}
	if IsInvalidState(err) {
		t.Error("IsInvalidState matched a max-steps error")
	}
}
