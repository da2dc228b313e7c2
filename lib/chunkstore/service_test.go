// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conduit-foundation/conduit/lib/clock"
	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/handshake"
	"github.com/conduit-foundation/conduit/lib/pipe"
)

// testService builds a Service with a fresh server identity.
func testService(t *testing.T) (*Service, *handshake.Identity) {
	t.Helper()
	identity, err := handshake.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { identity.Close() })

	store := New(Options{
		ChunkSize: 4096,
		Clock:     clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger:    testLogger(),
	})
	return NewService(store, identity, testLogger()), identity
}

// sealedTestSecret generates a session secret sealed to the identity.
func sealedTestSecret(t *testing.T, identity *handshake.Identity) []byte {
	t.Helper()
	sessionSecret, err := handshake.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	defer sessionSecret.Close()

	sealed, err := handshake.SealSecret(sessionSecret, identity.Recipient)
	if err != nil {
		t.Fatal(err)
	}
	return sealed
}

func TestServiceOpenAndAttach(t *testing.T) {
	service, identity := testService(t)
	ctx := context.Background()

	opened, err := service.OpenSession(ctx, &pipe.OpenRequest{
		SealedSecret: sealedTestSecret(t, identity),
		Mode:         compress.ModeLZ4Independent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if opened.Params.SessionID == "" {
		t.Fatal("open returned no session id")
	}
	if opened.Params.Mode != compress.ModeLZ4Independent {
		t.Errorf("mode %v, want ModeLZ4Independent", opened.Params.Mode)
	}

	attached, err := service.OpenSession(ctx, &pipe.OpenRequest{
		SessionID: opened.Params.SessionID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if attached.Params.SessionID != opened.Params.SessionID {
		t.Error("attach returned a different session")
	}
}

func TestServiceOpenDefaultsToStreamMode(t *testing.T) {
	service, identity := testService(t)

	opened, err := service.OpenSession(context.Background(), &pipe.OpenRequest{
		SealedSecret: sealedTestSecret(t, identity),
	})
	if err != nil {
		t.Fatal(err)
	}
	if opened.Params.Mode != compress.ModeZstdStream {
		t.Errorf("mode %v, want ModeZstdStream default", opened.Params.Mode)
	}
}

func TestServiceOpenRejectsBadSecret(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	// No secret at all.
	if _, err := service.OpenSession(ctx, &pipe.OpenRequest{}); !errors.Is(err, pipe.ErrHandshakeRejected) {
		t.Errorf("empty open: got %v, want ErrHandshakeRejected", err)
	}

	// Garbage blob.
	_, err := service.OpenSession(ctx, &pipe.OpenRequest{SealedSecret: []byte("not age output")})
	if !errors.Is(err, pipe.ErrHandshakeRejected) {
		t.Errorf("garbage blob: got %v, want ErrHandshakeRejected", err)
	}

	// Sealed to someone else's recipient.
	otherIdentity, err := handshake.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	defer otherIdentity.Close()
	_, err = service.OpenSession(ctx, &pipe.OpenRequest{
		SealedSecret: sealedTestSecret(t, otherIdentity),
	})
	if !errors.Is(err, pipe.ErrHandshakeRejected) {
		t.Errorf("wrong recipient: got %v, want ErrHandshakeRejected", err)
	}
}

func TestServiceAppendFetchAckClose(t *testing.T) {
	service, identity := testService(t)
	ctx := context.Background()

	opened, err := service.OpenSession(ctx, &pipe.OpenRequest{
		SealedSecret: sealedTestSecret(t, identity),
	})
	if err != nil {
		t.Fatal(err)
	}
	id := opened.Params.SessionID

	chunk := testChunk("payload", true)
	if _, err := service.AppendChunk(ctx, &pipe.AppendRequest{SessionID: id, Seq: 0, Chunk: chunk}); err != nil {
		t.Fatal(err)
	}

	fetched, err := service.FetchChunk(ctx, &pipe.FetchRequest{SessionID: id, Seq: 0})
	if err != nil {
		t.Fatal(err)
	}
	if string(fetched.Chunk.Ciphertext) != "payload" || !fetched.Chunk.IsLast {
		t.Error("fetched chunk does not match appended chunk")
	}

	if _, err := service.Ack(ctx, &pipe.AckRequest{SessionID: id, Seq: 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := service.CloseSession(ctx, &pipe.CloseRequest{SessionID: id}); err != nil {
		t.Fatal(err)
	}

	// The drained sealed session is gone.
	if _, err := service.FetchChunk(ctx, &pipe.FetchRequest{SessionID: id, Seq: 0}); !errors.Is(err, pipe.ErrSessionNotFound) {
		t.Errorf("fetch after close: got %v, want ErrSessionNotFound", err)
	}
}
