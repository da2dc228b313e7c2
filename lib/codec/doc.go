// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Conduit's standard CBOR encoding configuration.
//
// Every message on the pipe protocol — open/attach, append, fetch,
// ack, close — is a CBOR document encoded through this package, so
// that client and server encode identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces
// identical bytes, which matters for the content hashing used in
// append deduplication.
//
// For buffer-oriented operations (request/response bodies, tokens):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// Protocol types carry `cbor` tags: they are only ever serialized as
// CBOR. Types that also appear in CLI --json output carry `json` tags
// instead — fxamacker/cbor reads `json` tags as fallback when `cbor`
// tags are absent, so a single tag controls field naming and
// omitempty for both formats. Never use both tags on one field.
package codec
