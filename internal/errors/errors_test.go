package errors

import (
	"fmt"
	"testing"
)

func TestFeedErrorTransientMatchesSentinel(t *testing.T) {
	err := Wrap(NewFeedError("kite", "pull", true, fmt.Errorf("connection reset")), "polling")
	if !Is(err, ErrNetworkTransient) {
		t.Fatalf("expected transient feed error to match ErrNetworkTransient: %v", err)
	}
	if !IsRecoverable(err) {
		t.Error("transient feed error should be recoverable")
	}

	permanent := NewFeedError("kite", "pull", false, ErrNotAuthenticated)
	if Is(permanent, ErrNetworkTransient) {
		t.Error("non-transient feed error must not match ErrNetworkTransient")
	}
	if !Is(permanent, ErrNotAuthenticated) {
		t.Error("feed error should unwrap to its cause")
	}
}

func TestValidationErrorIsFatal(t *testing.T) {
	err := NewValidationError("symbol", "", "symbol is required", ErrInvalidSymbol)
	if !IsFatal(err) {
		t.Errorf("invalid symbol should be fatal: %v", err)
	}
	if IsRecoverable(err) {
		t.Error("invalid symbol should not be recoverable")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestDataErrorMessage(t *testing.T) {
	err := NewDataError("candles", "INFY", "high below low", ErrDataMalformed)
	want := "data error [candles] INFY: high below low: data malformed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrDataMalformed) {
		t.Error("data error should unwrap to ErrDataMalformed")
	}
}
