// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"context"
	"time"

	"github.com/conduit-foundation/conduit/lib/clock"
)

// RetryPolicy bounds the retry loops of the writer and reader:
// exponential backoff from BackoffBase, capped at BackoffCap, for at
// most MaxAttempts tries of any one operation.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultRetryPolicy matches the server defaults: 8 attempts, 100ms
// base, 5s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  5 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = def.BackoffBase
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = def.BackoffCap
	}
	return p
}

// backoff returns the wait before retry number attempt (0-based):
// BackoffBase doubled per attempt, capped.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := p.BackoffBase
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if wait > p.BackoffCap {
		return p.BackoffCap
	}
	return wait
}

// sleep blocks for d on the injected clock, or until ctx is done.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
