// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestResultRoundTrip(t *testing.T) {
	cases := []error{
		nil,
		&SequenceMismatchError{Expected: 42},
		&SequenceConflictError{Seq: 7},
		ErrStoreFull,
		ErrNotYetAvailable,
		ErrSessionNotFound,
		ErrSessionSealed,
		ErrChunkEvicted,
	}
	for _, original := range cases {
		restored := ResultFromError(original).Err()
		if original == nil {
			if restored != nil {
				t.Errorf("ok result restored to %v", restored)
			}
			continue
		}
		if restored == nil {
			t.Errorf("%v restored to nil", original)
			continue
		}
		if restored.Error() != original.Error() {
			t.Errorf("restored %q, want %q", restored, original)
		}
	}
}

func TestResultPreservesMismatchExpected(t *testing.T) {
	restored := ResultFromError(&SequenceMismatchError{Expected: 99}).Err()
	var mismatch *SequenceMismatchError
	if !errors.As(restored, &mismatch) {
		t.Fatalf("restored %T, want SequenceMismatchError", restored)
	}
	if mismatch.Expected != 99 {
		t.Errorf("Expected = %d, want 99", mismatch.Expected)
	}
}

func TestResultWrappedErrorsStillMatch(t *testing.T) {
	wrapped := fmt.Errorf("appending chunk: %w", ErrStoreFull)
	if ResultFromError(wrapped).Code != resultStoreFull {
		t.Error("wrapped ErrStoreFull did not map to store_full")
	}
	if !errors.Is(ResultFromError(wrapped).Err(), ErrStoreFull) {
		t.Error("restored error does not match ErrStoreFull")
	}
}

func TestResultUnknownErrorCarriesDetail(t *testing.T) {
	result := ResultFromError(errors.New("disk on fire"))
	if result.Code != resultInternal {
		t.Fatalf("code %q, want internal", result.Code)
	}
	restored := result.Err()
	if restored == nil || restored.Error() == "" {
		t.Error("internal result should restore to a descriptive error")
	}
}

func TestTransferFailedUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransferFailedError{Attempts: 8, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("TransferFailedError should unwrap to its cause")
	}
}

func TestBackoffProgression(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 8,
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  5 * time.Second,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
		5 * time.Second,
		5 * time.Second,
	}
	for attempt, expected := range want {
		if got := policy.backoff(attempt); got != expected {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, expected)
		}
	}
}
