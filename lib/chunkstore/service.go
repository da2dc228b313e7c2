// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/handshake"
	"github.com/conduit-foundation/conduit/lib/pipe"
)

// Service binds a Store and the server identity into the pipe
// Transport interface. The HTTP handler wraps it for remote clients;
// tests use it directly as an in-process transport.
//
// Protocol failures are returned as the typed errors of lib/pipe.
type Service struct {
	store    *Store
	identity *handshake.Identity
	logger   *slog.Logger
}

// NewService creates a Service. The identity is borrowed for the
// Service's lifetime and not closed.
func NewService(store *Store, identity *handshake.Identity, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, identity: identity, logger: logger}
}

// OpenSession opens a new session (writer: sealed secret + mode) or
// attaches to an existing one (reader: session id only).
//
// The sealed secret is unsealed with the server identity to verify it
// targets this server and has the right shape, then discarded: the
// server never retains key material and never sees chunk plaintext.
func (s *Service) OpenSession(ctx context.Context, req *pipe.OpenRequest) (*pipe.OpenResponse, error) {
	if req.SessionID != "" {
		params, err := s.store.Attach(req.SessionID)
		if err != nil {
			return nil, err
		}
		return &pipe.OpenResponse{Params: params}, nil
	}

	if len(req.SealedSecret) == 0 {
		return nil, fmt.Errorf("%w: open request carries no sealed secret", pipe.ErrHandshakeRejected)
	}
	sessionSecret, err := handshake.UnsealSecret(req.SealedSecret, s.identity)
	if err != nil {
		s.logger.Warn("rejecting open", "error", err)
		return nil, fmt.Errorf("%w: %v", pipe.ErrHandshakeRejected, err)
	}
	sessionSecret.Close()

	mode := req.Mode
	if mode == 0 {
		mode = compress.ModeZstdStream
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown codec mode %d", pipe.ErrHandshakeRejected, mode)
	}

	params, err := s.store.Open(mode)
	if err != nil {
		return nil, err
	}
	return &pipe.OpenResponse{Params: params}, nil
}

// AppendChunk stores one chunk.
func (s *Service) AppendChunk(ctx context.Context, req *pipe.AppendRequest) (*pipe.AppendResponse, error) {
	if err := s.store.Append(ctx, req.SessionID, req.Seq, req.Chunk); err != nil {
		return nil, err
	}
	return &pipe.AppendResponse{}, nil
}

// FetchChunk returns one chunk.
func (s *Service) FetchChunk(ctx context.Context, req *pipe.FetchRequest) (*pipe.FetchResponse, error) {
	chunk, err := s.store.Fetch(req.SessionID, req.Seq)
	if err != nil {
		return nil, err
	}
	return &pipe.FetchResponse{Chunk: chunk}, nil
}

// Ack evicts consumed chunks.
func (s *Service) Ack(ctx context.Context, req *pipe.AckRequest) (*pipe.AckResponse, error) {
	if err := s.store.Ack(req.SessionID, req.Seq); err != nil {
		return nil, err
	}
	return &pipe.AckResponse{}, nil
}

// CloseSession seals (writer) or releases (reader) a session.
func (s *Service) CloseSession(ctx context.Context, req *pipe.CloseRequest) (*pipe.CloseResponse, error) {
	if err := s.store.Close(req.SessionID); err != nil {
		return nil, err
	}
	return &pipe.CloseResponse{}, nil
}

var _ pipe.Transport = (*Service)(nil)
