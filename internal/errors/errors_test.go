package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestBatchErrorMessage(t *testing.T) {
	t.Parallel()

	err := ErrJobUnknownType("mystery")
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
	if err.Code != CodeJobUnknownType {
		t.Errorf("code mismatch: got %s", err.Code)
	}

	withCause := err.WithCause(fmt.Errorf("boom"))
	if withCause.Cause == nil {
		t.Fatal("expected cause to be set")
	}
	if stderrors.Unwrap(withCause) == nil {
		t.Error("Unwrap should return the cause")
	}
}

func TestBatchErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("outer: %w", ErrCapacityExhausted())
	if !stderrors.Is(wrapped, ErrCapacityExhausted()) {
		t.Error("expected Is to match by code through wrapping")
	}
	if stderrors.Is(wrapped, ErrTaskNotFound("x")) {
		t.Error("different codes must not match")
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  *BatchError
		want Category
	}{
		{ErrTaskNotFound("t1"), CategoryNotFound},
		{ErrJobNotFound(1, "crop_main_files"), CategoryNotFound},
		{ErrJobUnknownType("x"), CategoryBadRequest},
		{ErrCapacityExhausted(), CategoryUnavailable},
		{ErrConfigInvalid("database.dsn", "empty"), CategoryBadRequest},
	}
	for _, tc := range cases {
		if got := tc.err.Category(); got != tc.want {
			t.Errorf("%s: category %v, want %v", tc.err.Code, got, tc.want)
		}
	}
}

func TestAsBatchError(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("ctx: %w", ErrJobNotFound(7, "collect_main_files"))
	be := AsBatchError(wrapped)
	if be == nil {
		t.Fatal("expected BatchError")
	}
	if be.Code != CodeJobNotFound {
		t.Errorf("code mismatch: got %s", be.Code)
	}
	if AsBatchError(fmt.Errorf("plain")) != nil {
		t.Error("plain error should not convert")
	}
}
