// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/conduit-foundation/conduit/lib/clock"
	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/handshake"
	"github.com/conduit-foundation/conduit/lib/seal"
)

// ReaderOptions configures NewReader.
type ReaderOptions struct {
	// Transport carries the protocol exchanges. Required.
	Transport Transport

	// Token is the string printed by the producer: session id plus
	// session secret. Required.
	Token string

	// StartSeq begins consumption at a later chunk. Only valid with
	// ModeLZ4Independent sessions, whose frames carry no cross-frame
	// codec state; stream-mode sessions must be read from seq 0.
	StartSeq uint64

	// Retry bounds fetch retries and paces not-yet-available polls.
	// Zero values take defaults.
	Retry RetryPolicy

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Reader consumes a pipe session as an io.ReadCloser: a forward-only,
// single pass over the stream's plaintext. It fetches chunks by
// increasing sequence number, authenticates and decompresses each,
// and acks consumed positions so the server can free its buffer.
//
// When the writer has not produced the next chunk yet, Read blocks,
// polling with backoff on the injected clock; cancel the context to
// give up. After the final chunk the Reader acks the whole stream and
// closes the session. Not safe for concurrent use.
type Reader struct {
	ctx       context.Context
	transport Transport
	params    SessionParams
	box       *seal.Box
	decomp    compress.Decompressor
	retry     RetryPolicy
	clk       clock.Clock
	logger    *slog.Logger

	buffered []byte
	seq      uint64
	finished bool
	closed   bool
	err      error
}

// NewReader attaches to the session named by the token and returns a
// Reader positioned at StartSeq (default 0). The token's secret is
// released before NewReader returns.
func NewReader(ctx context.Context, opts ReaderOptions) (*Reader, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("reader requires a transport")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Retry = opts.Retry.withDefaults()

	sessionID, sessionSecret, err := handshake.DecodeToken(opts.Token)
	if err != nil {
		return nil, err
	}
	defer sessionSecret.Close()

	resp, err := opts.Transport.OpenSession(ctx, &OpenRequest{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("attaching to session %s: %w", sessionID, err)
	}
	params := resp.Params

	if opts.StartSeq > 0 && params.Mode != compress.ModeLZ4Independent {
		return nil, fmt.Errorf("session %s uses %s; only %s sessions support a nonzero start seq",
			sessionID, params.Mode, compress.ModeLZ4Independent)
	}

	key, err := seal.DeriveKey(sessionSecret, params.Salt)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	box, err := seal.NewBox(key, params.SessionID, params.NonceBase)
	if err != nil {
		return nil, err
	}
	decomp, err := compress.NewDecompressor(params.Mode)
	if err != nil {
		return nil, err
	}

	opts.Logger.Info("pipe attached",
		"session", params.SessionID, "mode", params.Mode.String(), "start_seq", opts.StartSeq)

	return &Reader{
		ctx:       ctx,
		transport: opts.Transport,
		params:    params,
		box:       box,
		decomp:    decomp,
		retry:     opts.Retry,
		clk:       opts.Clock,
		logger:    opts.Logger,
		seq:       opts.StartSeq,
	}, nil
}

// SessionID returns the session this reader consumes.
func (r *Reader) SessionID() string { return r.params.SessionID }

// Read yields the stream's plaintext in order.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.closed {
		return 0, fmt.Errorf("read on closed pipe reader")
	}

	for len(r.buffered) == 0 {
		if r.finished {
			return 0, io.EOF
		}
		if err := r.nextChunk(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n := copy(p, r.buffered)
	r.buffered = r.buffered[n:]
	return n, nil
}

// Close releases the codec. If the stream was not fully consumed the
// session is left on the server, resumable until its TTL; a finished
// reader has already acked and closed the session.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.decomp.Close()
}

// nextChunk fetches, authenticates, and decompresses the chunk at
// r.seq, appending its plaintext to the buffer. Consuming the final
// chunk acks the stream and closes the session.
func (r *Reader) nextChunk() error {
	chunk, err := r.fetchWithRetry()
	if err != nil {
		return err
	}

	frame, err := r.box.Open(chunk.Seq, chunk.IsLast, chunk.PlaintextLen, chunk.Sealed())
	if err != nil {
		// Corruption or tampering; never yield the bytes.
		return err
	}
	plaintext, err := r.decomp.Frame(frame, chunk.PlaintextLen)
	if err != nil {
		return err
	}
	r.buffered = append(r.buffered, plaintext...)

	consumed := r.seq
	r.seq++
	if chunk.IsLast {
		r.finished = true
		r.finalize(consumed)
		return nil
	}

	// Free server capacity as we go. A lost ack only delays
	// eviction; the final ack repeats the position.
	if _, err := r.transport.Ack(r.ctx, &AckRequest{SessionID: r.params.SessionID, Seq: consumed}); err != nil {
		r.logger.Debug("ack failed",
			"session", r.params.SessionID, "seq", consumed, "error", err)
	}
	return nil
}

// fetchedChunk is Chunk plus the position it was fetched at.
type fetchedChunk struct {
	Chunk
	Seq uint64
}

// fetchWithRetry polls for the chunk at r.seq. Not-yet-available
// results wait with capped backoff for as long as the context allows;
// transport failures count against the retry policy.
func (r *Reader) fetchWithRetry() (fetchedChunk, error) {
	failures := 0
	polls := 0
	for {
		resp, err := r.transport.FetchChunk(r.ctx, &FetchRequest{
			SessionID: r.params.SessionID,
			Seq:       r.seq,
		})
		if err == nil {
			return fetchedChunk{Chunk: resp.Chunk, Seq: r.seq}, nil
		}

		switch {
		case errors.Is(err, ErrNotYetAvailable):
			// The writer is still producing. Not a failure; wait as
			// long as the caller's context does.
			if sleepErr := sleep(r.ctx, r.clk, r.retry.backoff(polls)); sleepErr != nil {
				return fetchedChunk{}, sleepErr
			}
			polls++
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return fetchedChunk{}, err
		case errors.Is(err, ErrSessionNotFound),
			errors.Is(err, ErrSessionSealed),
			errors.Is(err, ErrChunkEvicted):
			return fetchedChunk{}, err
		}

		failures++
		if failures >= r.retry.MaxAttempts {
			return fetchedChunk{}, &TransferFailedError{Attempts: failures, Err: err}
		}
		r.logger.Warn("fetch failed, retrying",
			"session", r.params.SessionID, "seq", r.seq, "attempt", failures, "error", err)
		if sleepErr := sleep(r.ctx, r.clk, r.retry.backoff(failures-1)); sleepErr != nil {
			return fetchedChunk{}, sleepErr
		}
	}
}

// finalize acks through the last chunk and closes the session. Both
// are best-effort: the data is already delivered, and an unreleased
// session falls to the server's TTL sweep.
func (r *Reader) finalize(lastSeq uint64) {
	if _, err := r.transport.Ack(r.ctx, &AckRequest{SessionID: r.params.SessionID, Seq: lastSeq}); err != nil {
		r.logger.Debug("final ack failed", "session", r.params.SessionID, "error", err)
	}
	if _, err := r.transport.CloseSession(r.ctx, &CloseRequest{SessionID: r.params.SessionID}); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			r.logger.Debug("session close failed", "session", r.params.SessionID, "error", err)
		}
	}
	r.logger.Info("pipe drained", "session", r.params.SessionID, "chunks", r.seq)
}
