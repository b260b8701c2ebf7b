// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vagent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
matrix:
  homeserver_url: https://matrix.example.org
  user_id: "@vagent:example.org"
  password_file: /etc/vagent/password
store:
  path: /var/lib/vagent/store
  master_key_file: /etc/vagent/master.key
llm:
  base_url: http://localhost:8000/v1
  model: test-model
`

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Store.CheckpointTTL != "24h" {
		t.Errorf("expected checkpoint_ttl=24h, got %s", cfg.Store.CheckpointTTL)
	}
	if cfg.Store.HITLTTL != "1h" {
		t.Errorf("expected hitl_ttl=1h, got %s", cfg.Store.HITLTTL)
	}
	if cfg.Bridge.Mode != "local" {
		t.Errorf("expected bridge.mode=local, got %s", cfg.Bridge.Mode)
	}
	if cfg.Bot.ContextMessages != 20 {
		t.Errorf("expected context_messages=20, got %d", cfg.Bot.ContextMessages)
	}
}

func TestLoad_RequiresVagentConfig(t *testing.T) {
	origConfig := os.Getenv("VAGENT_CONFIG")
	defer os.Setenv("VAGENT_CONFIG", origConfig)

	os.Unsetenv("VAGENT_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when VAGENT_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "VAGENT_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Matrix.UserID != "@vagent:example.org" {
		t.Errorf("expected user_id=@vagent:example.org, got %s", cfg.Matrix.UserID)
	}
	// Unset fields keep their defaults.
	if cfg.Matrix.DeviceName != "vagent-bot" {
		t.Errorf("expected device_name=vagent-bot, got %s", cfg.Matrix.DeviceName)
	}
	if got := cfg.CheckpointTTL(); got != 24*time.Hour {
		t.Errorf("CheckpointTTL = %v, want 24h", got)
	}
	if got := cfg.HITLTTL(); got != time.Hour {
		t.Errorf("HITLTTL = %v, want 1h", got)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
matrix:
  homeserver_url: https://matrix.example.org
  user_id: "@vagent:example.org"
  password_file: /etc/vagent/password
store:
  path: /var/lib/vagent/store
  master_key_file: /etc/vagent/master.key
  sync_writes: false
llm:
  base_url: http://localhost:8000/v1
  model: test-model
environment: production
production:
  store:
    checkpoint_ttl: 72h
  llm:
    model: production-model
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Store.CheckpointTTL != "72h" {
		t.Errorf("expected checkpoint_ttl=72h, got %s", cfg.Store.CheckpointTTL)
	}
	if cfg.LLM.Model != "production-model" {
		t.Errorf("expected model=production-model, got %s", cfg.LLM.Model)
	}
	// Production forces synchronous writes regardless of the base value.
	if !cfg.Store.SyncWrites {
		t.Error("expected sync_writes forced on in production")
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/vagent")
	path := writeConfig(t, validConfig+`
development:
  store:
    path: ${HOME}/state/store
    master_key_file: ${VAGENT_KEY_DIR:-/etc/vagent}/master.key
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Store.Path != "/home/vagent/state/store" {
		t.Errorf("expected expanded store path, got %s", cfg.Store.Path)
	}
	if cfg.Store.MasterKeyFile != "/etc/vagent/master.key" {
		t.Errorf("expected default-expanded key path, got %s", cfg.Store.MasterKeyFile)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing homeserver", func(c *Config) { c.Matrix.HomeserverURL = "" }, "matrix.homeserver_url"},
		{"missing user", func(c *Config) { c.Matrix.UserID = "" }, "matrix.user_id"},
		{"missing key file", func(c *Config) { c.Store.MasterKeyFile = "" }, "store.master_key_file"},
		{"bad ttl", func(c *Config) { c.Store.CheckpointTTL = "soon" }, "store.checkpoint_ttl"},
		{"negative ttl", func(c *Config) { c.Store.HITLTTL = "-1h" }, "store.hitl_ttl"},
		{"bad bridge mode", func(c *Config) { c.Bridge.Mode = "grpc" }, "bridge.mode"},
		{"http mode without url", func(c *Config) { c.Bridge.Mode = "http" }, "bridge.url"},
		{"bad environment", func(c *Config) { c.Environment = "lab" }, "invalid environment"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := LoadFile(writeConfig(t, validConfig))
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			test.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q does not mention %q", err.Error(), test.want)
			}
		})
	}
}
