package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arclight-io/conveyor/internal/api"
	"github.com/arclight-io/conveyor/internal/collab"
	"github.com/arclight-io/conveyor/internal/conditions"
	"github.com/arclight-io/conveyor/internal/dispatch"
	"github.com/arclight-io/conveyor/internal/engine"
	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/expressions"
	"github.com/arclight-io/conveyor/internal/resolver"
	"github.com/arclight-io/conveyor/internal/scheduler"
	"github.com/arclight-io/conveyor/internal/secrets"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/internal/streaming"
	"github.com/arclight-io/conveyor/internal/validation"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine: HTTP intake, dispatcher, and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	st, err := store.NewLibSQLStore(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var vault secrets.Vault
	if cfg.Vault.Passphrase != "" {
		vault, err = secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.Vault.Passphrase,
			Salt:       []byte(cfg.Vault.Salt),
		})
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
	}

	res := resolver.New(vault)
	engines, err := expressions.NewRegistry()
	if err != nil {
		return fmt.Errorf("init expression engines: %w", err)
	}
	eval := conditions.New(res, engines)

	registry := executors.NewRegistry()
	sink := collab.NewLogSink(logger)
	entities := collab.NewStoreEntityService(st)
	gen := collab.NewHTTPGenerator(collab.GeneratorConfig{
		Endpoint: cfg.Generator.Endpoint,
		APIKey:   cfg.Generator.APIKey,
		Model:    cfg.Generator.Model,
		Timeout:  cfg.Generator.Timeout,
	})
	if err := executors.RegisterBuiltins(registry, sink, entities, gen, executors.WebhookConfig{}); err != nil {
		return fmt.Errorf("register executors: %w", err)
	}

	hub := streaming.NewMemoryHub()
	eng := engine.New(st, registry, res, eval, engine.Config{Hub: hub, Logger: logger})
	dispatcher := dispatch.New(st, eng, cfg.Dispatch.PoolSize, logger)
	defer dispatcher.Shutdown()

	sched := scheduler.New(st, eng, dispatcher, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		DueRunBatch:  cfg.Scheduler.DueRunBatch,
		Logger:       logger,
	})
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed-schedule recovery failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	validator, err := validation.New(registry, engines)
	if err != nil {
		return fmt.Errorf("init validator: %w", err)
	}

	server := api.NewServer(api.Deps{
		Store:     st,
		Intake:    dispatcher,
		Runs:      eng,
		Validator: validator,
		Hub:       hub,
		Registry:  registry,
		Logger:    logger,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start(cfg.Server.Addr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
