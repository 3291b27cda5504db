// Package main is the entry point for the Tink marketplace server.
//
// main stays minimal: read configuration, build the logger, make sure the
// data directories exist, then hand over to internal/server.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tinkapp/tink/internal/config"
	"github.com/tinkapp/tink/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// === 3. DATA DIRECTORIES ===
	// The database directory must exist before sqlite opens the file; the
	// media directory is created by the local media host itself.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if !cfg.GoogleEnabled() {
		logger.Info("Google sign-in disabled (GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET not set)")
	}
	if !cfg.AppleEnabled() {
		logger.Info("Apple sign-in disabled (APPLE_CLIENT_ID / APPLE_CLIENT_SECRET not set)")
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
