// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/conduit-foundation/conduit/lib/codec"
	"github.com/conduit-foundation/conduit/lib/secret"
)

// tokenPrefix versions the token format. A reader handed a token from
// an incompatible sender fails fast instead of failing at decrypt.
const tokenPrefix = "cndt1_"

// tokenPayload is the CBOR body of a pipe token.
type tokenPayload struct {
	SessionID string `cbor:"session_id"`
	Secret    []byte `cbor:"secret"`
}

// EncodeToken packs a session id and its secret into the compact
// string the producer hands to the consumer (via `conduit send`
// output). The token carries the raw secret: treat it like a
// password. The sessionSecret is borrowed and NOT closed.
func EncodeToken(sessionID string, sessionSecret *secret.Buffer) (string, error) {
	if sessionSecret.Len() != SecretSize {
		return "", fmt.Errorf("session secret must be %d bytes, got %d", SecretSize, sessionSecret.Len())
	}
	payload := tokenPayload{
		SessionID: sessionID,
		Secret:    sessionSecret.Bytes(),
	}
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(encoded), nil
}

// DecodeToken unpacks a pipe token. The secret is moved into guarded
// memory; the caller must close the returned buffer.
func DecodeToken(token string) (sessionID string, sessionSecret *secret.Buffer, err error) {
	body, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return "", nil, fmt.Errorf("not a pipe token (missing %q prefix)", tokenPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("decoding token: %w", err)
	}
	var payload tokenPayload
	if err := codec.Unmarshal(raw, &payload); err != nil {
		return "", nil, fmt.Errorf("decoding token payload: %w", err)
	}
	if payload.SessionID == "" {
		return "", nil, fmt.Errorf("token has no session id")
	}
	if len(payload.Secret) != SecretSize {
		secret.Zero(payload.Secret)
		return "", nil, fmt.Errorf("token secret is %d bytes, want %d", len(payload.Secret), SecretSize)
	}
	buffer, err := secret.NewFromBytes(payload.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("protecting token secret: %w", err)
	}
	return payload.SessionID, buffer, nil
}
