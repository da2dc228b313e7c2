// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"log/slog"
	"os"
)

// NewLogger creates the standard structured logger for conduit
// binaries: JSON output on stderr at Info level. It also installs
// the logger as the slog default so library code that logs through
// the package-level functions ends up in the same stream.
func NewLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
