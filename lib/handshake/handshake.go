// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/conduit-foundation/conduit/lib/secret"
)

// SecretSize is the size in bytes of a session secret: the input key
// material for the session key derivation.
const SecretSize = 32

// Identity is the server's age x25519 keypair. The private key lives
// in a secret.Buffer; the recipient string is safe to publish.
//
// The caller must call Close when the identity is no longer needed.
type Identity struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format.
	// Must never be logged or passed on a command line.
	PrivateKey *secret.Buffer

	// Recipient is the corresponding public key in age1... format.
	Recipient string
}

// Close releases the private key memory. Idempotent.
func (id *Identity) Close() error {
	if id.PrivateKey != nil {
		return id.PrivateKey.Close()
	}
	return nil
}

// GenerateIdentity creates a fresh server identity. The private key
// string is moved into mmap-backed memory immediately.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(generated.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Identity{
		PrivateKey: privateKey,
		Recipient:  generated.Recipient().String(),
	}, nil
}

// LoadIdentity reads an identity file (a single AGE-SECRET-KEY-1...
// line) and derives its recipient string.
func LoadIdentity(path string) (*Identity, error) {
	privateKey, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	parsed, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		privateKey.Close()
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return &Identity{
		PrivateKey: privateKey,
		Recipient:  parsed.Recipient().String(),
	}, nil
}

// GenerateSecret creates a random session secret in guarded memory.
// The caller must close the returned buffer.
func GenerateSecret() (*secret.Buffer, error) {
	sessionSecret, err := secret.NewFromReader(rand.Reader, SecretSize)
	if err != nil {
		return nil, fmt.Errorf("generating session secret: %w", err)
	}
	return sessionSecret, nil
}

// SealSecret encrypts a session secret to the server's recipient
// string. The sessionSecret is borrowed and NOT closed. The returned
// blob is safe to send over an untrusted channel.
func SealSecret(sessionSecret *secret.Buffer, recipientKey string) ([]byte, error) {
	if sessionSecret.Len() != SecretSize {
		return nil, fmt.Errorf("session secret must be %d bytes, got %d", SecretSize, sessionSecret.Len())
	}
	recipient, err := age.ParseX25519Recipient(recipientKey)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient key: %w", err)
	}

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(sessionSecret.Bytes()); err != nil {
		return nil, fmt.Errorf("sealing session secret: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return sealed.Bytes(), nil
}

// UnsealSecret decrypts a sealed session secret with the server
// identity. The identity is borrowed and NOT closed. Returns an error
// if the blob does not decrypt to exactly SecretSize bytes.
//
// The caller must close the returned buffer.
func UnsealSecret(sealed []byte, identity *Identity) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(identity.PrivateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(sealed), parsed)
	if err != nil {
		return nil, fmt.Errorf("unsealing session secret: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading unsealed secret: %w", err)
	}
	if len(plaintext) != SecretSize {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("unsealed secret is %d bytes, want %d", len(plaintext), SecretSize)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(plaintext)
}
