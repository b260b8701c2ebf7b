// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for vagent.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Matrix configures the homeserver connection for the bot.
	Matrix MatrixConfig `yaml:"matrix"`

	// Store configures the embedded checkpoint and HITL store.
	Store StoreConfig `yaml:"store"`

	// LLM configures the language model provider.
	LLM LLMConfig `yaml:"llm"`

	// Bridge configures how the bot reaches the workflow engine.
	Bridge BridgeConfig `yaml:"bridge"`

	// Bot configures message handling behavior.
	Bot BotConfig `yaml:"bot"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Matrix *MatrixConfig `yaml:"matrix,omitempty"`
	Store  *StoreConfig  `yaml:"store,omitempty"`
	LLM    *LLMConfig    `yaml:"llm,omitempty"`
	Bridge *BridgeConfig `yaml:"bridge,omitempty"`
	Bot    *BotConfig    `yaml:"bot,omitempty"`
}

// MatrixConfig configures the homeserver connection.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver.
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the bot's full Matrix user ID (@vagent:example.org).
	UserID string `yaml:"user_id"`

	// PasswordFile is the path to a file holding the bot's password.
	// "-" reads the password from stdin at startup.
	PasswordFile string `yaml:"password_file"`

	// DeviceName is the display name registered for the login device.
	// Default: vagent-bot
	DeviceName string `yaml:"device_name"`
}

// StoreConfig configures the embedded state store.
type StoreConfig struct {
	// Path is the directory for the store's database files.
	// Default: ${VAGENT_ROOT}/store
	Path string `yaml:"path"`

	// MasterKeyFile is the path to a 64-hex-character file holding
	// the 32-byte checkpoint encryption master key.
	MasterKeyFile string `yaml:"master_key_file"`

	// SyncWrites enables synchronous database writes. Forced on in
	// production.
	SyncWrites bool `yaml:"sync_writes"`

	// CheckpointTTL is how long an untouched conversation checkpoint
	// survives before expiring. Each write restarts the window.
	// Default: 24h
	CheckpointTTL string `yaml:"checkpoint_ttl"`

	// HITLTTL is how long a human-in-the-loop prompt waits for an
	// answer before expiring. Default: 1h
	HITLTTL string `yaml:"hitl_ttl"`
}

// LLMConfig configures the language model provider.
type LLMConfig struct {
	// BaseURL is the provider's API base URL.
	BaseURL string `yaml:"base_url"`

	// APIKeyFile is the path to a file holding the provider API key.
	// Empty means the provider requires no key (local inference).
	APIKeyFile string `yaml:"api_key_file"`

	// Model is the model identifier to request.
	Model string `yaml:"model"`

	// MaxTokens caps the length of generated responses.
	// Default: 1024
	MaxTokens int `yaml:"max_tokens"`
}

// BridgeConfig configures how the bot reaches the workflow engine.
type BridgeConfig struct {
	// Mode selects the transport: "local" runs the engine inside the
	// bot process, "http" dials a separately deployed engine.
	// Default: local
	Mode string `yaml:"mode"`

	// ListenAddress is where the engine serves its HTTP API when run
	// standalone. Default: 127.0.0.1:7310
	ListenAddress string `yaml:"listen_address"`

	// URL is the engine base URL the bot dials in http mode.
	URL string `yaml:"url"`
}

// BotConfig configures message handling behavior.
type BotConfig struct {
	// ContextMessages is how many recent room messages are fetched as
	// ambient context for each request. Default: 20
	ContextMessages int `yaml:"context_messages"`

	// Roles maps Matrix user IDs to an authorization role. Users not
	// listed get the "default" role.
	Roles map[string]string `yaml:"roles"`

	// RoleTools maps a role name to the tool name patterns it may
	// invoke. A role with no entry can invoke nothing.
	RoleTools map[string][]string `yaml:"role_tools"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "vagent")

	return &Config{
		Environment: Development,
		Matrix: MatrixConfig{
			DeviceName: "vagent-bot",
		},
		Store: StoreConfig{
			Path:          filepath.Join(defaultRoot, "store"),
			SyncWrites:    true,
			CheckpointTTL: "24h",
			HITLTTL:       "1h",
		},
		LLM: LLMConfig{
			MaxTokens: 1024,
		},
		Bridge: BridgeConfig{
			Mode:          "local",
			ListenAddress: "127.0.0.1:7310",
		},
		Bot: BotConfig{
			ContextMessages: 20,
		},
	}
}

// Load loads configuration from the VAGENT_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if VAGENT_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("VAGENT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("VAGENT_CONFIG environment variable not set; " +
			"set it to the path of your vagent.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Checkpoints are the bot's only durable memory.
		c.Store.SyncWrites = true
	}

	if overrides == nil {
		return
	}

	if overrides.Matrix != nil {
		if overrides.Matrix.HomeserverURL != "" {
			c.Matrix.HomeserverURL = overrides.Matrix.HomeserverURL
		}
		if overrides.Matrix.UserID != "" {
			c.Matrix.UserID = overrides.Matrix.UserID
		}
		if overrides.Matrix.PasswordFile != "" {
			c.Matrix.PasswordFile = overrides.Matrix.PasswordFile
		}
		if overrides.Matrix.DeviceName != "" {
			c.Matrix.DeviceName = overrides.Matrix.DeviceName
		}
	}

	if overrides.Store != nil {
		if overrides.Store.Path != "" {
			c.Store.Path = overrides.Store.Path
		}
		if overrides.Store.MasterKeyFile != "" {
			c.Store.MasterKeyFile = overrides.Store.MasterKeyFile
		}
		if overrides.Store.CheckpointTTL != "" {
			c.Store.CheckpointTTL = overrides.Store.CheckpointTTL
		}
		if overrides.Store.HITLTTL != "" {
			c.Store.HITLTTL = overrides.Store.HITLTTL
		}
	}

	if overrides.LLM != nil {
		if overrides.LLM.BaseURL != "" {
			c.LLM.BaseURL = overrides.LLM.BaseURL
		}
		if overrides.LLM.APIKeyFile != "" {
			c.LLM.APIKeyFile = overrides.LLM.APIKeyFile
		}
		if overrides.LLM.Model != "" {
			c.LLM.Model = overrides.LLM.Model
		}
		if overrides.LLM.MaxTokens != 0 {
			c.LLM.MaxTokens = overrides.LLM.MaxTokens
		}
	}

	if overrides.Bridge != nil {
		if overrides.Bridge.Mode != "" {
			c.Bridge.Mode = overrides.Bridge.Mode
		}
		if overrides.Bridge.ListenAddress != "" {
			c.Bridge.ListenAddress = overrides.Bridge.ListenAddress
		}
		if overrides.Bridge.URL != "" {
			c.Bridge.URL = overrides.Bridge.URL
		}
	}

	if overrides.Bot != nil {
		if overrides.Bot.ContextMessages != 0 {
			c.Bot.ContextMessages = overrides.Bot.ContextMessages
		}
		if overrides.Bot.Roles != nil {
			c.Bot.Roles = overrides.Bot.Roles
		}
		if overrides.Bot.RoleTools != nil {
			c.Bot.RoleTools = overrides.Bot.RoleTools
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Store.MasterKeyFile = expandVars(c.Store.MasterKeyFile, vars)
	c.Matrix.PasswordFile = expandVars(c.Matrix.PasswordFile, vars)
	c.LLM.APIKeyFile = expandVars(c.LLM.APIKeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// CheckpointTTL returns the parsed checkpoint expiry window.
// Validate must have succeeded first.
func (c *Config) CheckpointTTL() time.Duration {
	d, _ := time.ParseDuration(c.Store.CheckpointTTL)
	return d
}

// HITLTTL returns the parsed HITL prompt expiry window.
// Validate must have succeeded first.
func (c *Config) HITLTTL() time.Duration {
	d, _ := time.ParseDuration(c.Store.HITLTTL)
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("matrix.homeserver_url is required"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, fmt.Errorf("matrix.user_id is required"))
	}
	if c.Matrix.PasswordFile == "" {
		errs = append(errs, fmt.Errorf("matrix.password_file is required"))
	}

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Store.MasterKeyFile == "" {
		errs = append(errs, fmt.Errorf("store.master_key_file is required"))
	}
	if d, err := time.ParseDuration(c.Store.CheckpointTTL); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("store.checkpoint_ttl must be a positive duration, got %q", c.Store.CheckpointTTL))
	}
	if d, err := time.ParseDuration(c.Store.HITLTTL); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("store.hitl_ttl must be a positive duration, got %q", c.Store.HITLTTL))
	}

	if c.LLM.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm.base_url is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive"))
	}

	switch c.Bridge.Mode {
	case "local":
	case "http":
		if c.Bridge.URL == "" {
			errs = append(errs, fmt.Errorf("bridge.url is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("bridge.mode must be local or http, got %q", c.Bridge.Mode))
	}

	if c.Bot.ContextMessages < 0 {
		errs = append(errs, fmt.Errorf("bot.context_messages must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
