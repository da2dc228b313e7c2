// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress turns a plaintext byte stream into a sequence of
// compressed frames, one frame per pipe chunk, and back.
//
// Two modes are supported, chosen at session open and fixed for the
// session's lifetime:
//
//   - [ModeZstdStream]: frames are slices of a single zstd stream,
//     cut at chunk boundaries with an encoder flush. The compression
//     window carries across frames, so small chunks still compress
//     well — but the decompressor must receive every frame, in
//     order. A gap desynchronizes the stream and is unrecoverable
//     without a fresh session.
//   - [ModeLZ4Independent]: each frame is an independent LZ4 block.
//     No cross-frame state, so a reader may start at any frame
//     boundary, at the cost of ratio on small chunks. Frames whose
//     LZ4 encoding would not shrink the input are stored raw, marked
//     by a one-byte frame tag.
//
// Frame boundaries are chunk boundaries: the caller hands the
// compressor one chunk's plaintext and gets back exactly one frame.
// Decompression requires the original plaintext length, which the
// pipe protocol carries per chunk.
package compress
