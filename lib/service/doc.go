// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared process infrastructure for conduit
// binaries: the HTTP server lifecycle (bind, Ready signal, graceful
// shutdown on context cancel) and the standard structured logger.
//
// Binaries compose these utilities in their own main() function
// rather than subclassing a framework. The package provides building
// blocks, not a runtime.
package service
