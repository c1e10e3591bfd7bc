// Package commands implements the bookcalc subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/config"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/functions"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/state"
	"github.com/spf13/cobra"
)

type configKey struct{}

type loggerKey struct{}

// WithConfig stores the loaded configuration and logger in ctx.
func WithConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) context.Context {
	ctx = context.WithValue(ctx, configKey{}, cfg)
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetConfig retrieves the configuration from the command context.
// Without one, defaults for the working directory are loaded.
func GetConfig(ctx context.Context) (*config.Config, error) {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c, nil
	}
	return config.Load("", nil)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// NewLogger builds the process logger from the log configuration.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// CommandContext holds the shared state of a command run.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Registry *columns.Registry
	Library  *functions.Library
	Out      io.Writer
}

// NewCommandContext loads the column registry and function library.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := GetConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	logger := GetLogger(cmd.Context())

	cols, err := columns.Load(cfg.ColumnsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	registry := columns.NewRegistry()
	if err := registry.Replace(cols); err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	lib := functions.NewLibrary(functions.LibraryConfig{
		Dir:      cfg.FunctionsDir,
		MaxSteps: cfg.Engine.MaxSteps,
		Logger:   logger,
	})
	if err := lib.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load functions: %w", err)
	}

	for _, err := range lib.CheckBindings(registry.Snapshot().Columns) {
		logger.Warn("column binding mismatch", "error", err)
	}

	logger.Debug("project loaded",
		"columns", registry.Count(),
		"functions", len(lib.Functions()),
		"config", cfg.ConfigFile)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Registry: registry,
		Library:  lib,
		Out:      cmd.OutOrStdout(),
	}, nil
}

// OpenStore opens the SQLite record store, creating its directory.
func (c *CommandContext) OpenStore() (*state.SQLiteStore, error) {
	if c.Cfg.StatePath != ":memory:" {
		if dir := filepath.Dir(c.Cfg.StatePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store := state.NewSQLiteStore(state.SQLiteConfig{
		MaxBatchSize:      c.Cfg.Writes.MaxBatchSize,
		CompressThreshold: c.Cfg.Audit.CompressThreshold,
		Logger:            c.Logger,
	})
	if err := store.Open(c.Cfg.StatePath); err != nil {
		return nil, err
	}
	return store, nil
}
