// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// vagent-engine runs the conversation workflow engine as a standalone
// HTTP service. The bot process dials it when bridge.mode is "http";
// deployments using bridge.mode "local" run the engine inside the bot
// process and do not need this binary.
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
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "path to vagent.yaml (overrides VAGENT_CONFIG)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("vagent-engine %s\n", version.Info())
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

	service, cleanup, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:              cfg.Bridge.ListenAddress,
		Handler:           bridge.NewServer(service, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("engine running", "listen_address", cfg.Bridge.ListenAddress)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
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

// buildService assembles the workflow stack: store, model provider,
// authorization policy, engine, and approval coordinator. The returned
// cleanup closes the stores in dependency order.
func buildService(cfg *config.Config, logger *slog.Logger) (*bridge.Service, func(), error) {
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

	// The store takes ownership of the master key.
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
