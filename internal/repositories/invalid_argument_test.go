package repositories

import (
	"fmt"
	"testing"
)

func TestInvalidArgumentError(t *testing.T) {
	err := MissingField("order", "order id")
	if err.Error() != "order repository: order id is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !IsInvalidArgument(fmt.Errorf("wrap: %w", err)) {
		t.Fatalf("expected wrapped error to be detected")
	}

	err = InvalidField("counter", "step", "must be positive, got %d", -2)
	if err.Error() != "counter repository: step must be positive, got -2" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if IsInvalidArgument(fmt.Errorf("plain")) {
		t.Fatalf("plain error is not an invalid argument")
	}
}
