// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake establishes the shared session secret between the
// pipe writer, the server, and the reader.
//
// The server holds an age x25519 identity; its recipient (public)
// string is published out of band. Opening a session, the writer
// generates a random 32-byte session secret and encrypts it to the
// server's recipient with filippo.io/age, so the secret never travels
// in the clear. The server unseals the blob, verifies its shape, and
// discards it: chunk contents stay opaque to the server.
//
// The reader receives the secret directly from the producer as a
// compact token (session id + secret, base64url over CBOR) printed by
// `conduit send` and passed to `conduit recv`.
//
// Secrets and private keys live in secret.Buffer (mmap-backed, locked
// against swap, zeroed on close).
package handshake
