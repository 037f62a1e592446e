package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindSentinelsMatch(t *testing.T) {
	err := fmt.Errorf("register task: %w", ErrAlreadyPaid)
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected named sentinel match")
	}
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected kind sentinel match")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected kind match")
	}
	if errors.Is(err, ErrWrongContract) {
		t.Fatalf("named sentinels of different failures must not match")
	}
	if KindOf(err) != InvalidState {
		t.Fatalf("kind = %s", KindOf(err))
	}
}

func TestWrapAndTransient(t *testing.T) {
	if Wrap(Transient, "x", nil) != nil {
		t.Fatalf("wrap of nil must be nil")
	}
	base := errors.New("database is locked")
	err := Wrap(Transient, "storage busy", base)
	if !IsTransient(err) {
		t.Fatalf("expected transient")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected unwrap to base")
	}
	if !IsTransient(fmt.Errorf("op: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline must be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatalf("plain errors are not transient")
	}
	if got := Newf(NotFound, "task %s", "1").Error(); got != "task 1" {
		t.Fatalf("message = %q", got)
	}
}
