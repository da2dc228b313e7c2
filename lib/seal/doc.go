// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package seal implements per-chunk authenticated encryption for pipe
// sessions.
//
// Each chunk's compressed payload is sealed with XChaCha20-Poly1305
// under a session key derived via HKDF-SHA256 from the session secret
// established at handshake. The nonce is deterministic: the session's
// 16-byte nonce base concatenated with the chunk's 8-byte big-endian
// sequence number. Within a session sequence numbers never repeat, so
// nonces never repeat; across sessions the nonce base is fresh random.
//
// The additional authenticated data binds every ciphertext to its
// position: format version, session id, sequence number, and the
// end-of-stream flag. A chunk replayed at a different seq, moved to a
// different session, or with its final-chunk marker stripped fails
// authentication.
//
// The package also computes the BLAKE3-256 content hash of sealed
// chunks. The server uses it to recognize retransmitted chunks:
// because the nonce is deterministic, retrying the same plaintext at
// the same seq reproduces the identical ciphertext and hash.
package seal
