// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol results that carry no parameters.
// They cross the HTTP binding as result codes and are reconstructed
// on the client side, so errors.Is works identically in-process and
// over the wire.
var (
	// ErrStoreFull means the session's buffer still held the maximum
	// number of unacked chunks after the bounded append wait. The
	// writer backs off and retries; capacity frees when the reader
	// acks.
	ErrStoreFull = errors.New("chunk buffer full")

	// ErrNotYetAvailable means the requested chunk has not been
	// appended yet. The reader polls with backoff; the session is
	// still OPEN.
	ErrNotYetAvailable = errors.New("chunk not yet available")

	// ErrSessionNotFound means the session id is unknown: never
	// opened, expired, or already torn down. Fatal for the transfer.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionSealed means the writer attempted an append after the
	// end-of-stream chunk, or the reader requested a chunk past the
	// end of a sealed session.
	ErrSessionSealed = errors.New("session is sealed")

	// ErrChunkEvicted means the requested chunk was acked and
	// released. Readers are forward-only; a fetch below the ack
	// floor is fatal.
	ErrChunkEvicted = errors.New("chunk already acked and evicted")

	// ErrHandshakeRejected means the server could not unseal or
	// validate the session secret in an open request.
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// SequenceMismatchError reports an append at the wrong position. The
// writer resynchronizes its counter to Expected and resends from
// there; it is a normal part of crash/retry recovery, not a fatal
// condition.
type SequenceMismatchError struct {
	Expected uint64
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("sequence mismatch: server expects seq %d", e.Expected)
}

// SequenceConflictError reports an append that reused a sequence
// number with different content. The single-writer invariant is
// broken; the session cannot be trusted and the transfer fails.
type SequenceConflictError struct {
	Seq uint64
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict: seq %d already stored with different content", e.Seq)
}

// TransferFailedError is the writer's and reader's terminal failure
// after the retry policy is exhausted. It wraps the last underlying
// error.
type TransferFailedError struct {
	Attempts int
	Err      error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }

// Result codes carried in HTTP response bodies. The in-process
// binding returns the errors directly; the HTTP binding folds them
// through these codes so both bindings present identical errors.
const (
	resultOK                = "ok"
	resultSequenceMismatch  = "sequence_mismatch"
	resultSequenceConflict  = "sequence_conflict"
	resultStoreFull         = "store_full"
	resultNotYetAvailable   = "not_yet_available"
	resultSessionNotFound   = "session_not_found"
	resultSessionSealed     = "session_sealed"
	resultChunkEvicted      = "chunk_evicted"
	resultHandshakeRejected = "handshake_rejected"
	resultInternal          = "internal"
)

// Result is the protocol-level outcome embedded in every HTTP
// response body. Transport and infrastructure failures use HTTP
// status codes instead; anything that reaches a Result was a
// well-formed protocol exchange.
type Result struct {
	Code string `cbor:"code"`

	// Detail is a human-readable elaboration for codes that carry no
	// structured parameters.
	Detail string `cbor:"detail,omitempty"`

	// Expected accompanies sequence_mismatch: the seq the server
	// will accept next.
	Expected uint64 `cbor:"expected,omitempty"`

	// Seq accompanies sequence_conflict.
	Seq uint64 `cbor:"seq,omitempty"`
}

// ResultFromError folds a server-side error into the wire Result.
// Unrecognized errors map to the internal code; their text crosses
// the wire as detail.
func ResultFromError(err error) Result {
	if err == nil {
		return Result{Code: resultOK}
	}
	var mismatch *SequenceMismatchError
	if errors.As(err, &mismatch) {
		return Result{Code: resultSequenceMismatch, Expected: mismatch.Expected}
	}
	var conflict *SequenceConflictError
	if errors.As(err, &conflict) {
		return Result{Code: resultSequenceConflict, Seq: conflict.Seq}
	}
	switch {
	case errors.Is(err, ErrStoreFull):
		return Result{Code: resultStoreFull}
	case errors.Is(err, ErrNotYetAvailable):
		return Result{Code: resultNotYetAvailable}
	case errors.Is(err, ErrSessionNotFound):
		return Result{Code: resultSessionNotFound}
	case errors.Is(err, ErrSessionSealed):
		return Result{Code: resultSessionSealed}
	case errors.Is(err, ErrChunkEvicted):
		return Result{Code: resultChunkEvicted}
	case errors.Is(err, ErrHandshakeRejected):
		return Result{Code: resultHandshakeRejected, Detail: err.Error()}
	}
	return Result{Code: resultInternal, Detail: err.Error()}
}

// Err reconstructs the typed error for a wire Result, or nil for ok.
func (r Result) Err() error {
	switch r.Code {
	case resultOK:
		return nil
	case resultSequenceMismatch:
		return &SequenceMismatchError{Expected: r.Expected}
	case resultSequenceConflict:
		return &SequenceConflictError{Seq: r.Seq}
	case resultStoreFull:
		return ErrStoreFull
	case resultNotYetAvailable:
		return ErrNotYetAvailable
	case resultSessionNotFound:
		return ErrSessionNotFound
	case resultSessionSealed:
		return ErrSessionSealed
	case resultChunkEvicted:
		return ErrChunkEvicted
	case resultHandshakeRejected:
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, r.Detail)
	}
	return fmt.Errorf("server error (%s): %s", r.Code, r.Detail)
}
