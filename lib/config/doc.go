// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for conduit.
//
// Configuration is loaded from a single file specified by either the
// CONDUIT_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
package config
