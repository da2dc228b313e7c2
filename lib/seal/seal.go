// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/conduit-foundation/conduit/lib/secret"
)

// KeySize is the size in bytes of the derived session key.
const KeySize = 32

// NonceBaseSize is the size in bytes of the per-session nonce base.
// Together with the 8-byte sequence number it forms the full 24-byte
// XChaCha20-Poly1305 nonce.
const NonceBaseSize = chacha20poly1305.NonceSizeX - 8

// SaltSize is the size in bytes of the per-session HKDF salt.
const SaltSize = 16

// FormatVersion is the sealed-chunk format version. It is the first
// byte of the AAD, so a version mismatch between writer and server
// surfaces as an authentication failure rather than garbage output.
// Version 0x02 added the plaintext length to the AAD.
const FormatVersion byte = 0x02

// Overhead is the per-chunk ciphertext expansion: the Poly1305 tag.
// The nonce is deterministic and never transmitted.
const Overhead = chacha20poly1305.Overhead

// hkdfInfoPipe is the HKDF info parameter for session key derivation.
// Changing it invalidates every session key derived under the old
// value.
var hkdfInfoPipe = []byte("conduit.pipe.v1")

// ErrAuthentication is the sentinel wrapped by every AuthError.
// Callers that do not care about position details can test for it
// with errors.Is.
var ErrAuthentication = errors.New("chunk authentication failed")

// AuthError reports an AEAD authentication failure for one chunk. It
// carries the position the verifier expected the chunk at; the chunk
// may have been tampered with, sealed under a different key, or
// replayed from another position.
type AuthError struct {
	SessionID string
	Seq       uint64
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("session %s seq %d: %s", e.SessionID, e.Seq, ErrAuthentication)
}

func (e *AuthError) Unwrap() error { return ErrAuthentication }

// Hash is a BLAKE3-256 content hash of a sealed chunk.
type Hash [32]byte

// String renders the hash as lowercase hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ContentHash computes the BLAKE3-256 hash of a sealed chunk
// (ciphertext including the tag). Deterministic sealing makes this
// hash stable across retransmissions of the same chunk.
func ContentHash(sealedChunk []byte) Hash {
	return blake3.Sum256(sealedChunk)
}

// DeriveKey derives the 32-byte session key from the session secret
// via HKDF-SHA256 with the per-session salt chosen by the server at
// open. The sessionSecret is borrowed (read via .Bytes()) and NOT
// closed. The returned Buffer must be closed by the caller.
func DeriveKey(sessionSecret *secret.Buffer, salt []byte) (*secret.Buffer, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("session salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	reader := hkdf.New(sha256.New, sessionSecret.Bytes(), salt, hkdfInfoPipe)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// Box seals and opens chunks for one pipe session. Both sides of a
// session construct an identical Box from the handshake parameters;
// sealing is fully deterministic, so the writer can recompute a
// chunk's ciphertext and content hash when retransmitting.
//
// A Box holds no mutable state and is safe for concurrent use.
type Box struct {
	aead      cipher.AEAD
	sessionID string
	nonceBase [NonceBaseSize]byte
}

// NewBox creates a Box for a session. The key is borrowed (read once
// via .Bytes()) and NOT closed; it must be exactly KeySize bytes, the
// output of DeriveKey. The nonceBase is the server-chosen random base
// from the session parameters.
func NewBox(key *secret.Buffer, sessionID string, nonceBase []byte) (*Box, error) {
	if len(nonceBase) != NonceBaseSize {
		return nil, fmt.Errorf("nonce base must be %d bytes, got %d", NonceBaseSize, len(nonceBase))
	}
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	box := &Box{aead: aead, sessionID: sessionID}
	copy(box.nonceBase[:], nonceBase)
	return box, nil
}

// Seal encrypts one chunk's payload at position seq. The isLast flag
// marks the final chunk of the stream and plaintextLen is the chunk's
// pre-compression length; both travel unencrypted on the wire and are
// authenticated here, so neither the end-of-stream marker nor the
// declared length can be altered in transit.
// Returns ciphertext+tag; the deterministic nonce is not included.
func (b *Box) Seal(seq uint64, isLast bool, plaintextLen int, payload []byte) []byte {
	nonce := b.nonce(seq)
	aad := b.aad(seq, isLast, plaintextLen)
	return b.aead.Seal(nil, nonce[:], payload, aad)
}

// Open authenticates and decrypts a sealed chunk at position seq.
// Returns an *AuthError (wrapping ErrAuthentication) if the tag does
// not verify: tampered ciphertext, wrong key, wrong position, a
// mismatched isLast flag, or an altered plaintext length.
func (b *Box) Open(seq uint64, isLast bool, plaintextLen int, sealedChunk []byte) ([]byte, error) {
	nonce := b.nonce(seq)
	aad := b.aad(seq, isLast, plaintextLen)
	payload, err := b.aead.Open(nil, nonce[:], sealedChunk, aad)
	if err != nil {
		return nil, &AuthError{SessionID: b.sessionID, Seq: seq}
	}
	return payload, nil
}

// nonce builds the 24-byte XChaCha20-Poly1305 nonce for seq:
// nonce_base || big-endian seq.
func (b *Box) nonce(seq uint64) [chacha20poly1305.NonceSizeX]byte {
	var nonce [chacha20poly1305.NonceSizeX]byte
	copy(nonce[:], b.nonceBase[:])
	binary.BigEndian.PutUint64(nonce[NonceBaseSize:], seq)
	return nonce
}

// aad builds the additional authenticated data for a chunk:
// version byte || session id || big-endian seq || isLast byte ||
// big-endian plaintext length.
func (b *Box) aad(seq uint64, isLast bool, plaintextLen int) []byte {
	aad := make([]byte, 1+len(b.sessionID)+8+1+8)
	aad[0] = FormatVersion
	copy(aad[1:], b.sessionID)
	binary.BigEndian.PutUint64(aad[1+len(b.sessionID):], seq)
	if isLast {
		aad[1+len(b.sessionID)+8] = 1
	}
	binary.BigEndian.PutUint64(aad[1+len(b.sessionID)+8+1:], uint64(plaintextLen))
	return aad
}
