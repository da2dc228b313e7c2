// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conduit-foundation/conduit/lib/pipe"
)

// Duration is time.Duration with YAML support for the usual "10m" /
// "500ms" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the conduit server configuration.
type Config struct {
	// ListenAddress is the HTTP listen address, host:port.
	ListenAddress string `yaml:"listen_address"`

	// IdentityFile is the path to the server's age identity (a
	// single AGE-SECRET-KEY-1... line), or "-" to read it from
	// stdin. Writers seal session secrets to its recipient.
	IdentityFile string `yaml:"identity_file"`

	// Pipe configures the session store.
	Pipe PipeConfig `yaml:"pipe"`

	// Retry is the retry policy the bundled CLI clients use; the
	// server itself never retries.
	Retry RetryConfig `yaml:"retry"`
}

// PipeConfig configures sessions and their chunk buffers.
type PipeConfig struct {
	// ChunkSize is the plaintext bytes per chunk, advertised to
	// writers at open.
	ChunkSize int `yaml:"chunk_size"`

	// BufferCapacity is the maximum unacked chunks retained per
	// session; appends beyond it experience backpressure.
	BufferCapacity int `yaml:"buffer_capacity"`

	// SessionTTL is the inactivity duration after which a session
	// expires.
	SessionTTL Duration `yaml:"session_ttl"`

	// AppendWait bounds how long a blocked append waits for reader
	// acks before failing with a store-full result.
	AppendWait Duration `yaml:"append_wait"`
}

// RetryConfig configures client retry behavior.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`
}

// Policy converts the configured values into the retry policy the
// pipe writer and reader take.
func (r RetryConfig) Policy() pipe.RetryPolicy {
	return pipe.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BackoffBase: r.BackoffBase.Std(),
		BackoffCap:  r.BackoffCap.Std(),
	}
}

// Default returns the configuration used when a field is absent from
// the file.
func Default() *Config {
	return &Config{
		ListenAddress: ":8750",
		Pipe: PipeConfig{
			ChunkSize:      256 * 1024,
			BufferCapacity: 64,
			SessionTTL:     Duration(10 * time.Minute),
			AppendWait:     Duration(5 * time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: 8,
			BackoffBase: Duration(100 * time.Millisecond),
			BackoffCap:  Duration(5 * time.Second),
		},
	}
}

// Load loads configuration from the CONDUIT_CONFIG environment
// variable. There are no fallbacks: if CONDUIT_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	path := os.Getenv("CONDUIT_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("CONDUIT_CONFIG environment variable not set; " +
			"set it to the path of your conduit.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as strange
// runtime behavior.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address must not be empty")
	}
	if c.Pipe.ChunkSize <= 0 {
		return fmt.Errorf("pipe.chunk_size must be positive, got %d", c.Pipe.ChunkSize)
	}
	if c.Pipe.BufferCapacity <= 0 {
		return fmt.Errorf("pipe.buffer_capacity must be positive, got %d", c.Pipe.BufferCapacity)
	}
	if c.Pipe.SessionTTL <= 0 {
		return fmt.Errorf("pipe.session_ttl must be positive, got %v", c.Pipe.SessionTTL.Std())
	}
	if c.Pipe.AppendWait <= 0 {
		return fmt.Errorf("pipe.append_wait must be positive, got %v", c.Pipe.AppendWait.Std())
	}
	if c.Pipe.AppendWait.Std() >= c.Pipe.SessionTTL.Std() {
		return fmt.Errorf("pipe.append_wait (%v) must be shorter than pipe.session_ttl (%v)",
			c.Pipe.AppendWait.Std(), c.Pipe.SessionTTL.Std())
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffBase <= 0 || c.Retry.BackoffCap < c.Retry.BackoffBase {
		return fmt.Errorf("retry backoff must satisfy 0 < backoff_base <= backoff_cap")
	}
	return nil
}
