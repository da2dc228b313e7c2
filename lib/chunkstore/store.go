// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conduit-foundation/conduit/lib/clock"
	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/pipe"
	"github.com/conduit-foundation/conduit/lib/seal"
)

// State is a session's lifecycle state.
type State uint8

const (
	// StateOpen accepts writer appends.
	StateOpen State = iota
	// StateSealed means the writer declared end-of-stream. Readers
	// may still drain buffered chunks; appends are rejected.
	StateSealed
	// StateExpired is terminal. The session is gone from the table;
	// the marker exists so operations already holding a session
	// pointer fail cleanly.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSealed:
		return "sealed"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Options configures a Store. Zero values take the defaults below.
type Options struct {
	// ChunkSize is the plaintext bytes per chunk, advertised to
	// writers at open. Default 256 KiB.
	ChunkSize int

	// Capacity is the maximum unacked chunks retained per session.
	// Appends beyond it block. Default 64.
	Capacity int

	// SessionTTL is the inactivity duration after which a session
	// expires in any state. Default 10 minutes.
	SessionTTL time.Duration

	// AppendWait bounds how long a blocked append waits for the
	// reader to free capacity before failing. Default 5 seconds.
	AppendWait time.Duration

	// SweepInterval is the period of the expiry sweep. Default
	// SessionTTL / 4.
	SweepInterval time.Duration

	// Clock defaults to clock.Real(). Tests inject clock.Fake.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 256 * 1024
	}
	if o.Capacity <= 0 {
		o.Capacity = 64
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 10 * time.Minute
	}
	if o.AppendWait <= 0 {
		o.AppendWait = 5 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = o.SessionTTL / 4
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// storedChunk pairs a buffered chunk with the content hash used to
// recognize retransmissions.
type storedChunk struct {
	chunk pipe.Chunk
	hash  seal.Hash
}

// session is one pipe's server-side state. The mutex covers
// everything except lastActivity, which is atomic so fetches can
// touch it under the read lock.
type session struct {
	id     string
	params pipe.SessionParams

	mu           sync.RWMutex
	state        State
	nextWriteSeq uint64
	// ackFloor is the lowest retained seq. Chunks below it are acked
	// and evicted.
	ackFloor uint64
	chunks   map[uint64]storedChunk
	// waiters are appenders blocked on a full buffer, woken by acks
	// and teardown. Channels are buffered so wakes never block.
	waiters []chan struct{}

	createdAt    time.Time
	lastActivity atomic.Int64 // unix nanos
}

func (s *session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// wake notifies every blocked appender and clears the list. Callers
// hold the session write lock.
func (s *session) wake() {
	for _, waiter := range s.waiters {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
	s.waiters = nil
}

// drop removes one waiter from the list, for an appender that gave up
// before being woken. A no-op when a concurrent wake already cleared
// it. Callers hold the session write lock.
func (s *session) drop(waiter chan struct{}) {
	for i, w := range s.waiters {
		if w == waiter {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// Store is the process-wide session table. It starts empty; entries
// are created by Open and destroyed by the sweep or by a reader
// closing a drained session.
type Store struct {
	opts   Options
	clk    clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates an empty Store.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		opts:     opts,
		clk:      opts.Clock,
		logger:   opts.Logger,
		sessions: make(map[string]*session),
	}
}

// Open creates a new session with fresh identifiers and returns the
// parameters both clients need: session id, HKDF salt, nonce base,
// chunk size, and the codec mode.
func (s *Store) Open(mode compress.Mode) (pipe.SessionParams, error) {
	if !mode.Valid() {
		return pipe.SessionParams{}, fmt.Errorf("invalid codec mode %d", mode)
	}

	var raw [16]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return pipe.SessionParams{}, fmt.Errorf("generating session id: %w", err)
	}
	id := "pipe-" + hex.EncodeToString(raw[:])

	salt := make([]byte, seal.SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return pipe.SessionParams{}, fmt.Errorf("generating session salt: %w", err)
	}
	nonceBase := make([]byte, seal.NonceBaseSize)
	if _, err := io.ReadFull(rand.Reader, nonceBase); err != nil {
		return pipe.SessionParams{}, fmt.Errorf("generating nonce base: %w", err)
	}

	now := s.clk.Now()
	sess := &session{
		id: id,
		params: pipe.SessionParams{
			SessionID: id,
			Salt:      salt,
			NonceBase: nonceBase,
			ChunkSize: s.opts.ChunkSize,
			Mode:      mode,
		},
		state:     StateOpen,
		chunks:    make(map[uint64]storedChunk),
		createdAt: now,
	}
	sess.touch(now)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Info("session opened",
		"session", id, "mode", mode.String(), "chunk_size", s.opts.ChunkSize)
	return sess.params, nil
}

// Attach returns the parameters of an existing session, for a reader
// joining with a secret it received out of band.
func (s *Store) Attach(sessionID string) (pipe.SessionParams, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return pipe.SessionParams{}, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	if sess.state == StateExpired {
		return pipe.SessionParams{}, pipe.ErrSessionNotFound
	}
	sess.touch(s.clk.Now())
	return sess.params, nil
}

// Append stores the chunk at seq.
//
// Position handling: seq must equal the session's next_write_seq. A
// retransmission below it with identical content is an idempotent
// success (the original ack was lost); different content at a stored
// position is a fatal SequenceConflictError; anything else is a
// SequenceMismatchError telling the writer where to resync.
//
// When the buffer already holds Capacity unacked chunks, Append
// blocks until an ack frees space, the AppendWait deadline passes
// (ErrStoreFull), or ctx is done.
func (s *Store) Append(ctx context.Context, sessionID string, seq uint64, chunk pipe.Chunk) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	incoming := seal.ContentHash(chunk.Sealed())

	sess.mu.Lock()
	defer sess.mu.Unlock()

	var deadline <-chan time.Time
	for {
		if sess.state == StateExpired {
			return pipe.ErrSessionNotFound
		}
		if seq < sess.ackFloor {
			// Already acked and evicted. Nothing to compare against;
			// point the writer at the live position.
			return &pipe.SequenceMismatchError{Expected: sess.nextWriteSeq}
		}
		if seq < sess.nextWriteSeq {
			if sess.chunks[seq].hash == incoming {
				sess.touch(s.clk.Now())
				return nil
			}
			return &pipe.SequenceConflictError{Seq: seq}
		}
		if sess.state == StateSealed {
			return pipe.ErrSessionSealed
		}
		if seq > sess.nextWriteSeq {
			return &pipe.SequenceMismatchError{Expected: sess.nextWriteSeq}
		}
		if len(sess.chunks) < s.opts.Capacity {
			break
		}

		// Buffer full: backpressure. The deadline spans all waits of
		// this call, not each individually.
		if deadline == nil {
			deadline = s.clk.After(s.opts.AppendWait)
		}
		waiter := make(chan struct{}, 1)
		sess.waiters = append(sess.waiters, waiter)
		sess.mu.Unlock()
		select {
		case <-waiter:
			sess.mu.Lock()
		case <-deadline:
			sess.mu.Lock()
			sess.drop(waiter)
			return pipe.ErrStoreFull
		case <-ctx.Done():
			sess.mu.Lock()
			sess.drop(waiter)
			return ctx.Err()
		}
	}

	sess.chunks[seq] = storedChunk{chunk: chunk, hash: incoming}
	sess.nextWriteSeq++
	if chunk.IsLast {
		sess.state = StateSealed
		s.logger.Info("session sealed", "session", sess.id, "chunks", sess.nextWriteSeq)
	}
	sess.touch(s.clk.Now())
	return nil
}

// Fetch returns the chunk at seq. ErrNotYetAvailable means the writer
// has not produced it yet and the reader should poll; ErrSessionSealed
// at a position past the end means the reader overran the stream;
// ErrChunkEvicted means the position was already acked.
//
// Fetch takes the session read lock, so concurrent reader fetches do
// not contend with each other.
func (s *Store) Fetch(sessionID string, seq uint64) (pipe.Chunk, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return pipe.Chunk{}, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()

	if sess.state == StateExpired {
		return pipe.Chunk{}, pipe.ErrSessionNotFound
	}
	if seq < sess.ackFloor {
		return pipe.Chunk{}, pipe.ErrChunkEvicted
	}
	if stored, ok := sess.chunks[seq]; ok {
		sess.touch(s.clk.Now())
		return stored.chunk, nil
	}
	if sess.state == StateSealed {
		return pipe.Chunk{}, pipe.ErrSessionSealed
	}
	return pipe.Chunk{}, pipe.ErrNotYetAvailable
}

// Ack records that the reader has durably consumed every chunk up to
// and including seq, evicts them, and wakes blocked appenders.
func (s *Store) Ack(sessionID string, seq uint64) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == StateExpired {
		return pipe.ErrSessionNotFound
	}
	if sess.nextWriteSeq > 0 {
		floor := seq + 1
		if seq >= sess.nextWriteSeq {
			floor = sess.nextWriteSeq
		}
		for k := sess.ackFloor; k < floor; k++ {
			delete(sess.chunks, k)
		}
		if floor > sess.ackFloor {
			sess.ackFloor = floor
			sess.wake()
		}
	}
	sess.touch(s.clk.Now())
	return nil
}

// Close ends a party's involvement. From the writer of an OPEN
// session it seals (equivalent to an is_last append with no data
// pending). From the reader of a SEALED session whose chunks are all
// acked it releases the session entirely.
func (s *Store) Close(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return pipe.ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.state {
	case StateOpen:
		sess.state = StateSealed
		s.logger.Info("session sealed by close", "session", sess.id, "chunks", sess.nextWriteSeq)
	case StateSealed:
		if len(sess.chunks) == 0 {
			sess.state = StateExpired
			sess.wake()
			delete(s.sessions, sessionID)
			s.logger.Info("session complete", "session", sess.id, "chunks", sess.nextWriteSeq)
		}
	case StateExpired:
		return pipe.ErrSessionNotFound
	}
	sess.touch(s.clk.Now())
	return nil
}

// ExpireSweep removes every session idle longer than the TTL,
// releasing its chunks and failing any blocked appenders. Returns the
// number of sessions removed.
func (s *Store) ExpireSweep() int {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(time.Unix(0, sess.lastActivity.Load()))
		if idle >= s.opts.SessionTTL {
			sess.state = StateExpired
			sess.chunks = nil
			sess.wake()
			delete(s.sessions, id)
			removed++
			s.logger.Info("session expired",
				"session", id, "idle", idle, "chunks", sess.nextWriteSeq)
		}
		sess.mu.Unlock()
	}
	return removed
}

// Run drives the periodic expiry sweep until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := s.clk.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireSweep()
		}
	}
}

// SessionCount reports the number of live sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(sessionID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, pipe.ErrSessionNotFound
	}
	return sess, nil
}
