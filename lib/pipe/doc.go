// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipe implements the remote pipe protocol: the wire types,
// the error taxonomy, the client writer and reader, and the HTTP
// transport binding.
//
// A pipe streams an arbitrary byte sequence from one producer to a
// consumer through a bounded server-side buffer. The producer wraps a
// Writer around a Transport; the Writer chunks the stream, compresses
// each chunk, seals it, and appends it to the server in sequence
// order. The consumer wraps a Reader around the same session; the
// Reader fetches chunks by increasing sequence number, opens and
// decompresses them, and yields the original bytes.
//
// The protocol is strictly request/response. Protocol-level failures
// (sequence mismatch, store full, chunk not yet available) are typed
// errors that the writer and reader handle internally with resync and
// bounded backoff; integrity and lifecycle failures surface to the
// caller. A transfer either delivers every byte or fails explicitly.
package pipe
