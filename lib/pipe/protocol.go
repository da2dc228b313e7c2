// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"context"

	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/seal"
)

// Chunk is the wire form of one sealed chunk. The ciphertext and the
// Poly1305 tag travel as separate fields; the content hash used for
// retry dedup covers their concatenation, which is exactly the output
// of seal.Box.Seal.
type Chunk struct {
	Ciphertext []byte `cbor:"ciphertext"`
	Tag        []byte `cbor:"tag"`

	// PlaintextLen is the chunk's plaintext size before compression.
	// The decompressor needs it to delimit stream-mode frames.
	PlaintextLen int `cbor:"plaintext_len"`

	// IsLast marks the final chunk of the stream. It is bound into
	// the AEAD tag, so a mismatch between this field and the sealed
	// value fails authentication.
	IsLast bool `cbor:"is_last,omitempty"`
}

// Sealed returns ciphertext and tag rejoined, the form seal.Box.Open
// and seal.ContentHash consume.
func (c *Chunk) Sealed() []byte {
	sealed := make([]byte, 0, len(c.Ciphertext)+len(c.Tag))
	sealed = append(sealed, c.Ciphertext...)
	return append(sealed, c.Tag...)
}

// SplitSealed builds a wire Chunk from seal.Box.Seal output.
func SplitSealed(sealedChunk []byte, plaintextLen int, isLast bool) Chunk {
	split := len(sealedChunk) - seal.Overhead
	return Chunk{
		Ciphertext:   sealedChunk[:split],
		Tag:          sealedChunk[split:],
		PlaintextLen: plaintextLen,
		IsLast:       isLast,
	}
}

// SessionParams is everything a client needs to participate in a
// session besides the session secret: the server-chosen identifiers
// and the crypto/codec parameters fixed at open.
type SessionParams struct {
	SessionID string        `cbor:"session_id"`
	Salt      []byte        `cbor:"salt"`
	NonceBase []byte        `cbor:"nonce_base"`
	ChunkSize int           `cbor:"chunk_size"`
	Mode      compress.Mode `cbor:"mode"`
}

// OpenRequest opens a new session or attaches to an existing one.
//
// A writer open carries SealedSecret, the session secret encrypted to
// the server's age recipient, and the requested codec mode. A reader
// attach carries SessionID instead; the reader already holds the
// secret out of band and only needs the session parameters back.
type OpenRequest struct {
	SealedSecret []byte        `cbor:"sealed_secret,omitempty"`
	Mode         compress.Mode `cbor:"mode,omitempty"`
	SessionID    string        `cbor:"session_id,omitempty"`
}

// OpenResponse returns the session parameters. The secret itself
// never appears in any response.
type OpenResponse struct {
	Result Result        `cbor:"result"`
	Params SessionParams `cbor:"params,omitempty"`
}

// AppendRequest appends one sealed chunk at a specific position.
type AppendRequest struct {
	SessionID string `cbor:"session_id"`
	Seq       uint64 `cbor:"seq"`
	Chunk     Chunk  `cbor:"chunk"`
}

// AppendResponse acknowledges an append.
type AppendResponse struct {
	Result Result `cbor:"result"`
}

// FetchRequest requests the chunk at a position.
type FetchRequest struct {
	SessionID string `cbor:"session_id"`
	Seq       uint64 `cbor:"seq"`
}

// FetchResponse carries the requested chunk.
type FetchResponse struct {
	Result Result `cbor:"result"`
	Chunk  Chunk  `cbor:"chunk,omitempty"`
}

// AckRequest reports that the reader has durably consumed every chunk
// up to and including Seq. The server may then evict them.
type AckRequest struct {
	SessionID string `cbor:"session_id"`
	Seq       uint64 `cbor:"seq"`
}

// AckResponse acknowledges an ack.
type AckResponse struct {
	Result Result `cbor:"result"`
}

// CloseRequest ends a party's involvement in a session. From the
// writer it seals the session; from the reader of a fully-acked
// sealed session it releases the session entirely.
type CloseRequest struct {
	SessionID string `cbor:"session_id"`
}

// CloseResponse acknowledges a close.
type CloseResponse struct {
	Result Result `cbor:"result"`
}

// Transport is the abstract request/response channel between a pipe
// client and the server. Two bindings exist: HTTPTransport speaks
// CBOR over HTTP POST, and the server's session service implements
// the interface directly for in-process use.
//
// Protocol failures are returned as the typed errors of this package
// (ErrStoreFull, *SequenceMismatchError, ...) by both bindings;
// callers never inspect response Result fields.
type Transport interface {
	OpenSession(ctx context.Context, req *OpenRequest) (*OpenResponse, error)
	AppendChunk(ctx context.Context, req *AppendRequest) (*AppendResponse, error)
	FetchChunk(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
	Ack(ctx context.Context, req *AckRequest) (*AckResponse, error)
	CloseSession(ctx context.Context, req *CloseRequest) (*CloseResponse, error)
}
