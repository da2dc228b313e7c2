// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/conduit-foundation/conduit/lib/chunkstore"
	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/handshake"
	"github.com/conduit-foundation/conduit/lib/pipe"
	"github.com/conduit-foundation/conduit/lib/seal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastRetry keeps test retries cheap on the real clock.
func fastRetry() pipe.RetryPolicy {
	return pipe.RetryPolicy{
		MaxAttempts: 4,
		BackoffBase: time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
	}
}

// testPipe is an in-process pipe server: a chunkstore service plus
// the identity clients seal their secrets to.
type testPipe struct {
	service  *chunkstore.Service
	store    *chunkstore.Store
	identity *handshake.Identity
}

func newTestPipe(t *testing.T, opts chunkstore.Options) *testPipe {
	t.Helper()
	identity, err := handshake.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { identity.Close() })

	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	store := chunkstore.New(opts)
	return &testPipe{
		service:  chunkstore.NewService(store, identity, testLogger()),
		store:    store,
		identity: identity,
	}
}

func (p *testPipe) writer(t *testing.T, ctx context.Context, mode compress.Mode) *pipe.Writer {
	t.Helper()
	writer, err := pipe.NewWriter(ctx, pipe.WriterOptions{
		Transport: p.service,
		Recipient: p.identity.Recipient,
		Mode:      mode,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return writer
}

func (p *testPipe) reader(t *testing.T, ctx context.Context, token string) *pipe.Reader {
	t.Helper()
	reader, err := pipe.NewReader(ctx, pipe.ReaderOptions{
		Transport: p.service,
		Token:     token,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return reader
}

func TestHelloWorld(t *testing.T) {
	// The canonical scenario: 4-byte chunks, 10 bytes of input, three
	// chunks (seq 0 "Hell", 1 "oWor", 2 "ld" with is_last), and the
	// session is released once the reader acks and closes.
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 4})
	ctx := context.Background()

	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)
	if _, err := io.WriteString(writer, "HelloWorld"); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader := testPipe.reader(t, ctx, writer.Token())
	output, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if string(output) != "HelloWorld" {
		t.Errorf("read %q, want %q", output, "HelloWorld")
	}
	if err := reader.Close(); err != nil {
		t.Fatal(err)
	}

	if count := testPipe.store.SessionCount(); count != 0 {
		t.Errorf("%d sessions remain after a drained close, want 0", count)
	}
}

func TestRoundTripBothModes(t *testing.T) {
	for _, mode := range []compress.Mode{compress.ModeZstdStream, compress.ModeLZ4Independent} {
		t.Run(mode.String(), func(t *testing.T) {
			testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 1024, Capacity: 256})
			ctx := context.Background()

			input := make([]byte, 100*1024+37)
			if _, err := rand.Read(input); err != nil {
				t.Fatal(err)
			}

			writer := testPipe.writer(t, ctx, mode)
			if _, err := writer.Write(input); err != nil {
				t.Fatal(err)
			}
			if err := writer.Close(); err != nil {
				t.Fatal(err)
			}

			reader := testPipe.reader(t, ctx, writer.Token())
			output, err := io.ReadAll(reader)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(output, input) {
				t.Errorf("output differs from input (%d vs %d bytes)", len(output), len(input))
			}
		})
	}
}

func TestBoundaryAlignedStream(t *testing.T) {
	// Input ending exactly on a chunk boundary forces an empty final
	// chunk to carry the is_last flag.
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 16})
	ctx := context.Background()

	input := bytes.Repeat([]byte("0123456789abcdef"), 2)
	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)
	if _, err := writer.Write(input); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader := testPipe.reader(t, ctx, writer.Token())
	output, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(output, input) {
		t.Errorf("read %q, want %q", output, input)
	}
}

// lossyTransport wraps a Transport and, once, reports failure for an
// append that actually reached the server. It reproduces a lost ack.
type lossyTransport struct {
	pipe.Transport
	mu      sync.Mutex
	dropSeq uint64
	dropped bool
}

func (l *lossyTransport) AppendChunk(ctx context.Context, req *pipe.AppendRequest) (*pipe.AppendResponse, error) {
	resp, err := l.Transport.AppendChunk(ctx, req)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil && !l.dropped && req.Seq == l.dropSeq {
		l.dropped = true
		return nil, fmt.Errorf("simulated lost response")
	}
	return resp, err
}

func TestLostAckIsIdempotent(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	lossy := &lossyTransport{Transport: testPipe.service, dropSeq: 1}
	writer, err := pipe.NewWriter(ctx, pipe.WriterOptions{
		Transport: lossy,
		Recipient: testPipe.identity.Recipient,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	input := []byte("the ack for chunk one goes missing")
	if _, err := writer.Write(input); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	if !lossy.dropped {
		t.Fatal("test did not exercise the lost-ack path")
	}

	reader := testPipe.reader(t, ctx, writer.Token())
	output, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(output, input) {
		t.Errorf("read %q, want %q", output, input)
	}
}

// failingTransport fails every append until remaining hits zero, then
// delegates. Requests that fail never reach the server.
type failingTransport struct {
	pipe.Transport
	mu        sync.Mutex
	remaining int
}

func (f *failingTransport) AppendChunk(ctx context.Context, req *pipe.AppendRequest) (*pipe.AppendResponse, error) {
	f.mu.Lock()
	if f.remaining > 0 {
		f.remaining--
		f.mu.Unlock()
		return nil, fmt.Errorf("simulated transport outage")
	}
	f.mu.Unlock()
	return f.Transport.AppendChunk(ctx, req)
}

func TestWriterRetriesTransportFailures(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	flaky := &failingTransport{Transport: testPipe.service, remaining: 2}
	writer, err := pipe.NewWriter(ctx, pipe.WriterOptions{
		Transport: flaky,
		Recipient: testPipe.identity.Recipient,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	input := []byte("survives a brief outage")
	if _, err := writer.Write(input); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader := testPipe.reader(t, ctx, writer.Token())
	output, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(output, input) {
		t.Errorf("read %q, want %q", output, input)
	}
}

func TestWriterFailsAfterRetryExhaustion(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	dead := &failingTransport{Transport: testPipe.service, remaining: 1 << 30}
	writer, err := pipe.NewWriter(ctx, pipe.WriterOptions{
		Transport: dead,
		Recipient: testPipe.identity.Recipient,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	err = writer.Close() // flushes the final chunk through the dead transport
	var failed *pipe.TransferFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("got %v, want TransferFailedError", err)
	}
	if failed.Attempts != fastRetry().MaxAttempts {
		t.Errorf("failed after %d attempts, want %d", failed.Attempts, fastRetry().MaxAttempts)
	}
}

func TestWriterSurfacesStoreFull(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{
		ChunkSize:  8,
		Capacity:   2,
		AppendWait: 5 * time.Millisecond,
	})
	ctx := context.Background()

	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)
	// No reader acks, so the third chunk cannot fit.
	_, err := writer.Write(bytes.Repeat([]byte("x"), 3*8))
	if err == nil {
		err = writer.Close()
	}
	if !errors.Is(err, pipe.ErrStoreFull) {
		t.Errorf("got %v, want ErrStoreFull after retries", err)
	}
}

// tamperTransport flips one ciphertext bit in a fetched chunk.
type tamperTransport struct {
	pipe.Transport
}

func (tt *tamperTransport) FetchChunk(ctx context.Context, req *pipe.FetchRequest) (*pipe.FetchResponse, error) {
	resp, err := tt.Transport.FetchChunk(ctx, req)
	if err == nil && len(resp.Chunk.Ciphertext) > 0 {
		resp.Chunk.Ciphertext[0] ^= 0x01
	}
	return resp, err
}

func TestTamperedChunkFailsAuthentication(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)
	if _, err := io.WriteString(writer, "integrity matters"); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader, err := pipe.NewReader(ctx, pipe.ReaderOptions{
		Transport: &tamperTransport{Transport: testPipe.service},
		Token:     writer.Token(),
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = io.ReadAll(reader)
	if !errors.Is(err, seal.ErrAuthentication) {
		t.Errorf("got %v, want ErrAuthentication", err)
	}
}

// shrinkLenTransport rewrites the declared plaintext length of the
// final chunk without touching the ciphertext.
type shrinkLenTransport struct {
	pipe.Transport
}

func (st *shrinkLenTransport) FetchChunk(ctx context.Context, req *pipe.FetchRequest) (*pipe.FetchResponse, error) {
	resp, err := st.Transport.FetchChunk(ctx, req)
	if err == nil && resp.Chunk.IsLast {
		resp.Chunk.PlaintextLen = 1
	}
	return resp, err
}

func TestShrunkPlaintextLenFailsAuthentication(t *testing.T) {
	// The length rides the wire in the clear and tells the reader how
	// many bytes to pull out of the decompressor. A relay that shrinks
	// it on the end-of-stream chunk must produce an authentication
	// error, not a silently truncated stream with a clean EOF.
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	input := "twenty-eight bytes of input."
	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)
	if _, err := io.WriteString(writer, input); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader, err := pipe.NewReader(ctx, pipe.ReaderOptions{
		Transport: &shrinkLenTransport{Transport: testPipe.service},
		Token:     writer.Token(),
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(reader)
	if !errors.Is(err, seal.ErrAuthentication) {
		t.Errorf("got %v, want ErrAuthentication", err)
	}
	if len(got) == len(input) {
		t.Error("full plaintext came through a tampered length header")
	}
}

func TestConcurrentWriterAndReader(t *testing.T) {
	// Writer and reader run together against a small buffer, so the
	// transfer only completes if acks release capacity while the
	// writer blocks on backpressure.
	testPipe := newTestPipe(t, chunkstore.Options{
		ChunkSize:  512,
		Capacity:   4,
		AppendWait: time.Second,
	})
	ctx := context.Background()

	input := make([]byte, 64*1024)
	if _, err := rand.Read(input); err != nil {
		t.Fatal(err)
	}

	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)
	writeDone := make(chan error, 1)
	go func() {
		if _, err := writer.Write(input); err != nil {
			writeDone <- err
			return
		}
		writeDone <- writer.Close()
	}()

	reader := testPipe.reader(t, ctx, writer.Token())
	output, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-writeDone; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(output, input) {
		t.Errorf("output differs from input (%d vs %d bytes)", len(output), len(input))
	}
}

func TestStartSeqRequiresIndependentFrames(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)
	if _, err := io.WriteString(writer, "stream mode session"); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	_, err := pipe.NewReader(ctx, pipe.ReaderOptions{
		Transport: testPipe.service,
		Token:     writer.Token(),
		StartSeq:  1,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err == nil {
		t.Error("NewReader should reject a start seq on a stream-mode session")
	}
}

func TestReaderResumeMidStream(t *testing.T) {
	// Independent frames allow a restarted reader to continue from a
	// later chunk without replaying the stream head.
	const chunkSize = 16
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: chunkSize, Capacity: 16})
	ctx := context.Background()

	input := make([]byte, 4*chunkSize)
	if _, err := rand.Read(input); err != nil {
		t.Fatal(err)
	}

	writer := testPipe.writer(t, ctx, compress.ModeLZ4Independent)
	if _, err := writer.Write(input); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	resumed, err := pipe.NewReader(ctx, pipe.ReaderOptions{
		Transport: testPipe.service,
		Token:     writer.Token(),
		StartSeq:  2,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	output, err := io.ReadAll(resumed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(output, input[2*chunkSize:]) {
		t.Errorf("resumed read returned %d bytes, want the last %d input bytes",
			len(output), len(input)-2*chunkSize)
	}
}

func TestReaderWaitsForWriter(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	writer := testPipe.writer(t, ctx, compress.ModeZstdStream)

	readResult := make(chan []byte, 1)
	readErr := make(chan error, 1)
	reader := testPipe.reader(t, ctx, writer.Token())
	go func() {
		output, err := io.ReadAll(reader)
		if err != nil {
			readErr <- err
			return
		}
		readResult <- output
	}()

	// The reader is already polling; produce the stream now.
	time.Sleep(10 * time.Millisecond)
	if _, err := io.WriteString(writer, "slow producer"); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case output := <-readResult:
		if string(output) != "slow producer" {
			t.Errorf("read %q, want %q", output, "slow producer")
		}
	case err := <-readErr:
		t.Fatalf("read failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("reader never finished")
	}
}

func TestReaderUnknownToken(t *testing.T) {
	testPipe := newTestPipe(t, chunkstore.Options{ChunkSize: 8})
	ctx := context.Background()

	// A token for a session this server has never seen.
	sessionSecret, err := handshake.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	defer sessionSecret.Close()
	token, err := handshake.EncodeToken("pipe-00000000000000000000000000000000", sessionSecret)
	if err != nil {
		t.Fatal(err)
	}

	_, err = pipe.NewReader(ctx, pipe.ReaderOptions{
		Transport: testPipe.service,
		Token:     token,
		Retry:     fastRetry(),
		Logger:    testLogger(),
	})
	if !errors.Is(err, pipe.ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}
