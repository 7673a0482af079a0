package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"skillbot/internal/app"
	"skillbot/internal/channel"
	"skillbot/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the server (websocket + HTTP API, Telegram when enabled)",
		Long:  "Starts the HTTP server, the enabled channels, the turn dispatcher and the workflow sweeper. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	shutdownTracing, err := telemetry.Init(telemetry.Config{
		Exporter:    cfg.Telemetry.Exporter,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	engine, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine shutdown incomplete", "err", err)
		}
	}()

	if err := engine.Sweeper.Start(cfg.Workflow.SweepSchedule); err != nil {
		return fmt.Errorf("workflow sweeper: %w", err)
	}
	defer engine.Sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	server := channel.NewServer(channel.ServerConfig{
		Addr:           cfg.Server.Addr(),
		WSPath:         cfg.Server.WSPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		APIKey:         cfg.Server.APIKey,
		WebhookSecret:  cfg.Server.WebhookSecret,
		MetricsPath:    metricsPath,
		TurnTimeout:    cfg.Agent.TurnTimeout,
		Hub:            engine.Hub,
		Store:          engine.Store,
		Manager:        engine.Manager,
		Catalog:        engine.Catalog,
		Ready:          engine.Ready,
		Logger:         logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		if err := engine.Hub.Serve(gctx, engine.Turns); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("turn dispatcher: %w", err)
		}
		return nil
	})

	if cfg.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			Logger:    logger,
		})
		g.Go(func() error { return tg.Start(gctx, engine.Turns) })
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	logger.Info("skillbot started. Press Ctrl+C to stop.", "version", version, "addr", cfg.Server.Addr())

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
