// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore is the server side of the remote pipe: the
// session table and the per-session bounded chunk buffer.
//
// A session moves through three states. OPEN accepts writer appends
// in strict sequence order. SEALED means the writer has declared
// end-of-stream; readers may still drain buffered chunks. Expiry is
// terminal: the session and its chunks are released, and any further
// reference fails with a not-found error.
//
// The buffer is a sliding window over the sealed ciphertexts. Chunks
// enter at next_write_seq and leave only when the reader acks them;
// when the window holds the configured capacity of unacked chunks,
// appends block for a bounded wait and then fail, which is the pipe's
// flow control. Retried appends below next_write_seq are matched by
// content hash: an identical retransmission replays the ack, a
// different payload at the same position is a fatal conflict.
//
// All waits are driven by an injected clock.Clock, so tests control
// time. A background sweep removes sessions idle past the TTL.
package chunkstore
