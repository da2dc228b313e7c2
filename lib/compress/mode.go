// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import "fmt"

// Mode identifies the compression scheme for a pipe session. The
// value is exchanged in the open handshake and stored in the session
// parameters (1 byte on the wire). These values are protocol
// constants — changing them breaks wire compatibility.
type Mode uint8

const (
	// ModeZstdStream compresses all chunks as one zstd stream,
	// flushed at chunk boundaries. Best ratio; frames must be
	// decompressed in order with no gaps.
	ModeZstdStream Mode = 1

	// ModeLZ4Independent compresses each chunk as an independent
	// LZ4 block (raw fallback for incompressible chunks). Lower
	// ratio; any frame can be decompressed in isolation.
	ModeLZ4Independent Mode = 2
)

// String returns the human-readable name of a mode.
func (m Mode) String() string {
	switch m {
	case ModeZstdStream:
		return "zstd-stream"
	case ModeLZ4Independent:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMode parses a mode from its string representation.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "zstd-stream":
		return ModeZstdStream, nil
	case "lz4":
		return ModeLZ4Independent, nil
	default:
		return 0, fmt.Errorf("unknown compression mode: %q", name)
	}
}

// Valid reports whether m is a defined mode.
func (m Mode) Valid() bool {
	return m == ModeZstdStream || m == ModeLZ4Independent
}
