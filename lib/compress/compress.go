// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CodecError reports a corrupt, truncated, or out-of-order compressed
// frame. A CodecError is fatal for the session: in stream mode the
// decompressor's window state cannot be reconstructed, so the transfer
// must restart with a fresh session.
type CodecError struct {
	Op  string // "compress" or "decompress"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Compressor turns successive plaintext chunks into compressed
// frames. Implementations are not safe for concurrent use; the pipe
// protocol has a single writer per session, which matches.
type Compressor interface {
	// Frame compresses one chunk's plaintext into one frame. The
	// returned slice is owned by the caller.
	Frame(plaintext []byte) ([]byte, error)

	// Close releases encoder resources. No Frame calls after Close.
	Close() error
}

// Decompressor reverses a Compressor frame by frame. plaintextLen is
// the original chunk length, carried by the pipe protocol per chunk.
type Decompressor interface {
	// Frame decompresses one frame. In stream mode, frames must
	// arrive in the exact order they were produced.
	Frame(frame []byte, plaintextLen int) ([]byte, error)

	// Close releases decoder resources. No Frame calls after Close.
	Close() error
}

// NewCompressor returns a Compressor for the given mode.
func NewCompressor(mode Mode) (Compressor, error) {
	switch mode {
	case ModeZstdStream:
		return newStreamCompressor()
	case ModeLZ4Independent:
		return independentCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression mode: %d", mode)
	}
}

// NewDecompressor returns a Decompressor for the given mode.
func NewDecompressor(mode Mode) (Decompressor, error) {
	switch mode {
	case ModeZstdStream:
		return newStreamDecompressor()
	case ModeLZ4Independent:
		return independentDecompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression mode: %d", mode)
	}
}

// --- Zstd stream mode ---

// streamCompressor cuts a single zstd stream at chunk boundaries.
// Each Frame call writes the plaintext into the encoder and flushes,
// so the emitted bytes form a complete, decodable prefix while the
// encoder's window carries into the next frame.
type streamCompressor struct {
	buffer  bytes.Buffer
	encoder *zstd.Encoder
	closed  bool
}

func newStreamCompressor() (*streamCompressor, error) {
	compressor := &streamCompressor{}
	encoder, err := zstd.NewWriter(&compressor.buffer,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, &CodecError{Op: "compress", Err: err}
	}
	compressor.encoder = encoder
	return compressor, nil
}

func (c *streamCompressor) Frame(plaintext []byte) ([]byte, error) {
	if c.closed {
		return nil, &CodecError{Op: "compress", Err: fmt.Errorf("compressor is closed")}
	}

	if _, err := c.encoder.Write(plaintext); err != nil {
		return nil, &CodecError{Op: "compress", Err: err}
	}
	// Flush ends the current block at a byte boundary so the frame
	// is decodable on its own (given all prior frames).
	if err := c.encoder.Flush(); err != nil {
		return nil, &CodecError{Op: "compress", Err: err}
	}

	frame := make([]byte, c.buffer.Len())
	copy(frame, c.buffer.Bytes())
	c.buffer.Reset()
	return frame, nil
}

func (c *streamCompressor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	// The epilogue the encoder would write on Close is never sent:
	// the decompressor reads exact frame boundaries and never relies
	// on stream end.
	return c.encoder.Close()
}

// streamDecompressor reverses streamCompressor. Frames are fed to a
// zstd decoder through an io.Pipe; a dedicated goroutine performs the
// writes so that a Frame call can interleave feeding the frame with
// reading the decoded output without deadlocking.
type streamDecompressor struct {
	feed      chan []byte
	pipeWrite *io.PipeWriter
	decoder   *zstd.Decoder
	closeOnce sync.Once
	closed    bool
}

func newStreamDecompressor() (*streamDecompressor, error) {
	pipeRead, pipeWrite := io.Pipe()
	decoder, err := zstd.NewReader(pipeRead, zstd.WithDecoderConcurrency(1))
	if err != nil {
		pipeWrite.Close()
		return nil, &CodecError{Op: "decompress", Err: err}
	}

	d := &streamDecompressor{
		feed:      make(chan []byte),
		pipeWrite: pipeWrite,
		decoder:   decoder,
	}

	go func() {
		for frame := range d.feed {
			if _, err := pipeWrite.Write(frame); err != nil {
				// Pipe closed during teardown; drain remaining
				// frames so senders are not blocked.
				continue
			}
		}
		pipeWrite.Close()
	}()

	return d, nil
}

func (d *streamDecompressor) Frame(frame []byte, plaintextLen int) ([]byte, error) {
	if d.closed {
		return nil, &CodecError{Op: "decompress", Err: fmt.Errorf("decompressor is closed")}
	}
	if plaintextLen < 0 {
		return nil, &CodecError{Op: "decompress", Err: fmt.Errorf("negative plaintext length %d", plaintextLen)}
	}

	// A zero-length chunk (the empty final chunk of a stream that
	// ended on a boundary) produces no decoded output; its frame
	// bytes are flush padding that no later frame depends on, so it
	// is not fed to the decoder. Valid only as the last frame.
	if plaintextLen == 0 {
		return nil, nil
	}

	// Hand a copy to the feeder goroutine: the decoder may consume
	// the frame bytes after this call returns.
	buffered := make([]byte, len(frame))
	copy(buffered, frame)
	d.feed <- buffered

	plaintext := make([]byte, plaintextLen)
	if _, err := io.ReadFull(d.decoder, plaintext); err != nil {
		return nil, &CodecError{Op: "decompress", Err: err}
	}
	return plaintext, nil
}

func (d *streamDecompressor) Close() error {
	d.closeOnce.Do(func() {
		d.closed = true
		close(d.feed)
		// Unblock the feeder if it is mid-write.
		d.pipeWrite.CloseWithError(io.ErrClosedPipe)
		d.decoder.Close()
	})
	return nil
}

// --- Independent LZ4 mode ---

// Frame tags for independent mode. Incompressible chunks are stored
// raw: LZ4 block compression can expand high-entropy input, and the
// decompressor needs to know which transform to reverse.
const (
	frameTagRaw byte = 0
	frameTagLZ4 byte = 1
)

type independentCompressor struct{}

func (independentCompressor) Frame(plaintext []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(plaintext))
	destination := make([]byte, 1+bound)

	written, err := lz4.CompressBlock(plaintext, destination[1:], nil)
	if err != nil {
		return nil, &CodecError{Op: "compress", Err: err}
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. Also fall back to raw when the compressed
	// output is not actually smaller than the input.
	if written == 0 || written >= len(plaintext) {
		frame := make([]byte, 1+len(plaintext))
		frame[0] = frameTagRaw
		copy(frame[1:], plaintext)
		return frame, nil
	}

	destination[0] = frameTagLZ4
	return destination[:1+written], nil
}

func (independentCompressor) Close() error { return nil }

type independentDecompressor struct{}

func (independentDecompressor) Frame(frame []byte, plaintextLen int) ([]byte, error) {
	if len(frame) == 0 {
		return nil, &CodecError{Op: "decompress", Err: fmt.Errorf("empty frame")}
	}

	switch frame[0] {
	case frameTagRaw:
		if len(frame)-1 != plaintextLen {
			return nil, &CodecError{Op: "decompress", Err: fmt.Errorf(
				"raw frame is %d bytes, expected %d", len(frame)-1, plaintextLen)}
		}
		plaintext := make([]byte, plaintextLen)
		copy(plaintext, frame[1:])
		return plaintext, nil

	case frameTagLZ4:
		plaintext := make([]byte, plaintextLen)
		read, err := lz4.UncompressBlock(frame[1:], plaintext)
		if err != nil {
			return nil, &CodecError{Op: "decompress", Err: err}
		}
		if read != plaintextLen {
			return nil, &CodecError{Op: "decompress", Err: fmt.Errorf(
				"lz4 frame decoded to %d bytes, expected %d", read, plaintextLen)}
		}
		return plaintext, nil

	default:
		return nil, &CodecError{Op: "decompress", Err: fmt.Errorf("unknown frame tag %d", frame[0])}
	}
}

func (independentDecompressor) Close() error { return nil }
