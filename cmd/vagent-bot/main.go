// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// vagent-bot is the chat-facing process: it logs into the Matrix
// homeserver, syncs the rooms the bot has joined, and drives the
// workflow engine for each inbound message. With bridge.mode "local"
// the engine runs inside this process; with "http" it dials a
// separately deployed vagent-engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/verji/vagent/bot"
	"github.com/verji/vagent/bridge"
	"github.com/verji/vagent/checkpoint"
	"github.com/verji/vagent/engine"
	"github.com/verji/vagent/hitl"
	"github.com/verji/vagent/lib/authz"
	"github.com/verji/vagent/lib/config"
	"github.com/verji/vagent/lib/kv"
	"github.com/verji/vagent/lib/llm"
	"github.com/verji/vagent/lib/secret"
	"github.com/verji/vagent/lib/version"
	"github.com/verji/vagent/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		verbose       bool
		showVersion   bool
		relayProgress bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "path to vagent.yaml (overrides VAGENT_CONFIG)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.BoolVar(&relayProgress, "relay-progress", false, "post workflow progress updates into the room")
	pflag.Parse()

	if showVersion {
		fmt.Printf("vagent-bot %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	chatSession, err := login(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer chatSession.Close()

	chatBot, err := bot.New(bot.Config{
		Chat:            chatSession,
		Handler:         handler,
		ContextMessages: cfg.Bot.ContextMessages,
		RelayProgress:   relayProgress,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	if err := chatBot.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func login(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*messaging.Session, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		DeviceName:    cfg.Matrix.DeviceName,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	password, err := secret.ReadFromPath(cfg.Matrix.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("loading Matrix password: %w", err)
	}
	defer password.Close()

	chatSession, err := client.Login(ctx, cfg.Matrix.UserID, password)
	if err != nil {
		return nil, fmt.Errorf("matrix login: %w", err)
	}
	logger.Info("logged in",
		"user_id", chatSession.UserID(),
		"device_id", chatSession.DeviceID(),
	)
	return chatSession, nil
}

// buildHandler selects the bridge transport. In http mode the heavy
// stack (store, model provider, engine) lives in the remote engine
// process and this process carries only an HTTP client.
func buildHandler(cfg *config.Config, logger *slog.Logger) (bridge.Handler, func(), error) {
	if cfg.Bridge.Mode == "http" {
		client, err := bridge.NewClient(cfg.Bridge.URL, &http.Client{
			Timeout: 0, // process streams have no bounded duration
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
	return buildLocalService(cfg, logger)
}

// buildLocalService assembles the in-process workflow stack, mirroring
// what vagent-engine runs standalone.
func buildLocalService(cfg *config.Config, logger *slog.Logger) (bridge.Handler, func(), error) {
	kvStore, err := kv.Open(kv.Config{
		Path:       cfg.Store.Path,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}

	masterKey, err := secret.ReadHexKeyFromPath(cfg.Store.MasterKeyFile, checkpoint.KeySize)
	if err != nil {
		kvStore.Close()
		return nil, nil, fmt.Errorf("loading master key: %w", err)
	}

	store, err := checkpoint.NewStore(checkpoint.Config{
		KV:        kvStore,
		MasterKey: masterKey,
		TTL:       cfg.CheckpointTTL(),
		Logger:    logger,
	})
	if err != nil {
		masterKey.Close()
		kvStore.Close()
		return nil, nil, err
	}

	cleanup := func() {
		store.Close()
		kvStore.Close()
	}

	var apiKey *secret.Buffer
	if cfg.LLM.APIKeyFile != "" {
		apiKey, err = secret.ReadFromPath(cfg.LLM.APIKeyFile)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("loading LLM API key: %w", err)
		}
	}
	provider := llm.NewOpenAI(&http.Client{Timeout: 5 * time.Minute}, cfg.LLM.BaseURL, apiKey)

	workflow, err := engine.New(engine.Config{
		Provider:    provider,
		Store:       store,
		Tools:       engine.NewRegistry(),
		Authorizer:  authz.NewPolicy(cfg.Bot.Roles, cfg.Bot.RoleTools),
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		HITLTimeout: cfg.HITLTTL(),
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	coordinator := hitl.NewCoordinator(store, logger)
	return bridge.NewService(workflow, coordinator, logger), cleanup, nil
}
