// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conduit-foundation/conduit/lib/clock"
	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/handshake"
	"github.com/conduit-foundation/conduit/lib/seal"
)

// WriterOptions configures NewWriter.
type WriterOptions struct {
	// Transport carries the protocol exchanges. Required.
	Transport Transport

	// Recipient is the server's age public key; the session secret
	// is sealed to it in the open request. Required.
	Recipient string

	// Mode selects the codec. Zero lets the server default apply
	// (stream mode).
	Mode compress.Mode

	// Retry bounds append retries. Zero values take defaults.
	Retry RetryPolicy

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Writer streams bytes into a pipe session. It is an io.WriteCloser:
// Write buffers plaintext and ships full chunks; Close flushes the
// remainder as the final chunk, which seals the session.
//
// The writer keeps at most one chunk in flight. On a lost ack it
// retries the same chunk; the server recognizes the retransmission by
// content hash, so retries never duplicate data. Not safe for
// concurrent use.
type Writer struct {
	ctx       context.Context
	transport Transport
	params    SessionParams
	box       *seal.Box
	comp      compress.Compressor
	retry     RetryPolicy
	clk       clock.Clock
	logger    *slog.Logger
	token     string

	pending []byte
	seq     uint64
	closed  bool
	// err is sticky: once a write fails the stream is unusable.
	err error
}

// NewWriter opens a new session and returns a Writer for it. The
// handshake generates a fresh session secret, seals it to the
// server's recipient, and derives the session key from the
// server-chosen salt in the response. The secret is released before
// NewWriter returns; Token() carries it to the consumer.
//
// ctx governs the whole transfer: every append and backoff wait
// stops when it is done.
func NewWriter(ctx context.Context, opts WriterOptions) (*Writer, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("writer requires a transport")
	}
	if opts.Recipient == "" {
		return nil, fmt.Errorf("writer requires the server recipient key")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Retry = opts.Retry.withDefaults()

	sessionSecret, err := handshake.GenerateSecret()
	if err != nil {
		return nil, err
	}
	defer sessionSecret.Close()

	sealedSecret, err := handshake.SealSecret(sessionSecret, opts.Recipient)
	if err != nil {
		return nil, err
	}

	resp, err := opts.Transport.OpenSession(ctx, &OpenRequest{
		SealedSecret: sealedSecret,
		Mode:         opts.Mode,
	})
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	params := resp.Params

	key, err := seal.DeriveKey(sessionSecret, params.Salt)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	box, err := seal.NewBox(key, params.SessionID, params.NonceBase)
	if err != nil {
		return nil, err
	}
	comp, err := compress.NewCompressor(params.Mode)
	if err != nil {
		return nil, err
	}
	token, err := handshake.EncodeToken(params.SessionID, sessionSecret)
	if err != nil {
		comp.Close()
		return nil, err
	}

	opts.Logger.Info("pipe opened",
		"session", params.SessionID, "mode", params.Mode.String(), "chunk_size", params.ChunkSize)

	return &Writer{
		ctx:       ctx,
		transport: opts.Transport,
		params:    params,
		box:       box,
		comp:      comp,
		retry:     opts.Retry,
		clk:       opts.Clock,
		logger:    opts.Logger,
		token:     token,
		pending:   make([]byte, 0, params.ChunkSize),
	}, nil
}

// SessionID returns the server-assigned session id.
func (w *Writer) SessionID() string { return w.params.SessionID }

// Token returns the string the consumer passes to the reader: session
// id plus the session secret. Treat it like a password.
func (w *Writer) Token() string { return w.token }

// Write buffers p and ships every completed chunk. It blocks while a
// chunk is in flight, including server backpressure waits.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, fmt.Errorf("write on closed pipe writer")
	}

	written := 0
	for len(p) > 0 {
		room := w.params.ChunkSize - len(w.pending)
		take := min(room, len(p))
		w.pending = append(w.pending, p[:take]...)
		p = p[take:]
		written += take

		if len(w.pending) == w.params.ChunkSize {
			if err := w.sendChunk(w.pending, false); err != nil {
				w.err = err
				return written, err
			}
			w.pending = w.pending[:0]
		}
	}
	return written, nil
}

// Close flushes the remaining buffered bytes as the final chunk
// (empty if the stream ended exactly on a chunk boundary), sealing
// the session, and releases the codec. Close reports any error from
// the final flush; a Writer whose Close returned nil has delivered
// every byte to the server.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	defer w.comp.Close()

	if w.err != nil {
		return w.err
	}
	if err := w.sendChunk(w.pending, true); err != nil {
		w.err = err
		return err
	}
	w.pending = nil

	// The is_last chunk already sealed the session; the explicit
	// close is a courtesy that lets the server release a session the
	// reader has fully drained. Failures are not data loss.
	if _, err := w.transport.CloseSession(w.ctx, &CloseRequest{SessionID: w.params.SessionID}); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			w.logger.Debug("close after seal", "session", w.params.SessionID, "error", err)
		}
	}

	w.logger.Info("pipe sealed", "session", w.params.SessionID, "chunks", w.seq)
	return nil
}

// sendChunk compresses, seals, and appends one chunk, advancing the
// local sequence counter on success.
func (w *Writer) sendChunk(plaintext []byte, isLast bool) error {
	frame, err := w.comp.Frame(plaintext)
	if err != nil {
		return err
	}
	sealedChunk := w.box.Seal(w.seq, isLast, len(plaintext), frame)
	chunk := SplitSealed(sealedChunk, len(plaintext), isLast)
	return w.appendWithRetry(chunk)
}

// appendWithRetry drives one chunk through the append protocol.
//
// Sequence mismatches are state reconciliation, not failures: the
// writer keeps exactly one chunk outstanding, so the server's
// expected seq is either w.seq (the append never landed; resend) or
// w.seq+1 (the append landed but its ack was lost; advance). Anything
// else means the session was written by someone else and is fatal.
func (w *Writer) appendWithRetry(chunk Chunk) error {
	var lastErr error
	for attempt := 0; attempt < w.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(w.ctx, w.clk, w.retry.backoff(attempt-1)); err != nil {
				return err
			}
		}

		_, err := w.transport.AppendChunk(w.ctx, &AppendRequest{
			SessionID: w.params.SessionID,
			Seq:       w.seq,
			Chunk:     chunk,
		})
		if err == nil {
			w.seq++
			return nil
		}

		var mismatch *SequenceMismatchError
		switch {
		case errors.As(err, &mismatch):
			if mismatch.Expected == w.seq+1 {
				// Lost ack: the chunk is already stored.
				w.seq = mismatch.Expected
				return nil
			}
			if mismatch.Expected == w.seq {
				lastErr = err
				continue
			}
			return fmt.Errorf("session %s: server expects seq %d, writer is at %d: %w",
				w.params.SessionID, mismatch.Expected, w.seq, err)
		case errors.Is(err, ErrStoreFull):
			// Reader is behind; back off and try again.
			lastErr = err
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		}

		var conflict *SequenceConflictError
		if errors.As(err, &conflict) ||
			errors.Is(err, ErrSessionNotFound) ||
			errors.Is(err, ErrSessionSealed) {
			return err
		}

		// Transport failure: retry per policy.
		w.logger.Warn("append failed, retrying",
			"session", w.params.SessionID, "seq", w.seq, "attempt", attempt+1, "error", err)
		lastErr = err
	}
	return &TransferFailedError{Attempts: w.retry.MaxAttempts, Err: lastErr}
}
