// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeClientConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientConfigResolution(t *testing.T) {
	flagged := writeClientConfig(t, "retry:\n  max_attempts: 3\n")
	fromEnv := writeClientConfig(t, "retry:\n  max_attempts: 5\n")

	t.Run("flag wins over environment", func(t *testing.T) {
		t.Setenv("CONDUIT_CONFIG", fromEnv)
		cfg, err := clientConfig(flagged)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Retry.MaxAttempts != 3 {
			t.Errorf("max_attempts = %d, want 3 from the --config file", cfg.Retry.MaxAttempts)
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("CONDUIT_CONFIG", fromEnv)
		cfg, err := clientConfig("")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Retry.MaxAttempts != 5 {
			t.Errorf("max_attempts = %d, want 5 from CONDUIT_CONFIG", cfg.Retry.MaxAttempts)
		}
	})

	t.Run("built-in defaults", func(t *testing.T) {
		t.Setenv("CONDUIT_CONFIG", "")
		os.Unsetenv("CONDUIT_CONFIG")
		cfg, err := clientConfig("")
		if err != nil {
			t.Fatal(err)
		}
		policy := cfg.Retry.Policy()
		if policy.MaxAttempts != 8 || policy.BackoffBase != 100*time.Millisecond {
			t.Errorf("default policy = %+v", policy)
		}
	})
}

func TestServerBaseURL(t *testing.T) {
	t.Setenv("CONDUIT_SERVER", "http://relay.internal:8750")
	if got := serverBaseURL("http://flagged:9000"); got != "http://flagged:9000" {
		t.Errorf("flag value not honored: %q", got)
	}
	if got := serverBaseURL(""); got != "http://relay.internal:8750" {
		t.Errorf("environment not honored: %q", got)
	}

	t.Setenv("CONDUIT_SERVER", "")
	os.Unsetenv("CONDUIT_SERVER")
	if got := serverBaseURL(""); got != "http://127.0.0.1:8750" {
		t.Errorf("default = %q", got)
	}
}
