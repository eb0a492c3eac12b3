// Package main is the entry point for the PII shield gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"piishield/config"
	"piishield/internal/app"
	"piishield/internal/logging"
	"piishield/internal/providers"
	"piishield/internal/providers/azure"
	"piishield/internal/providers/ollama"
)

func main() {
	checkConfig := flag.Bool("check-config", false, "Validate configuration and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := logging.New(os.Stdout, logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	if *checkConfig {
		fmt.Println("configuration OK")
		os.Exit(0)
	}

	factory := providers.NewProviderFactory()
	factory.Add(ollama.Registration)
	factory.Add(azure.Registration)

	application, err := app.New(context.Background(), app.Config{
		AppConfig: cfg,
		Factory:   factory,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
	<-shutdownDone
}
