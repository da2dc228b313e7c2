// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now, time.After, time.NewTicker, or time.Sleep
// directly. In production, Real() provides the standard library
// behavior. In tests, Fake() provides a deterministic clock that
// advances only when Advance is called.
//
// Conduit's bounded waits all flow through this package: the chunk
// store's append deadline, the client retry backoff, and the session
// TTL sweep. Tests drive all three with a FakeClock instead of
// sleeping.
//
// # FakeClock Synchronization
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock,
// it registers a pending waiter. Use WaitForWaiters to block until a
// specific number of waiters are registered before calling Advance.
// This eliminates the race between waiter registration and time
// advancement that plagues tests using time.Sleep for
// synchronization.
package clock
