// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for vagent
// components.
//
// Configuration is loaded from a single file specified by either the
// VAGENT_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter:
// synchronous store writes are forced on.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${VAGENT_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values. Secrets
// (Matrix password, LLM API key, checkpoint master key) are never
// placed in the config file itself; the file points at key material
// on disk and lib/secret reads it into guarded memory.
package config
