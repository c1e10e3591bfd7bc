package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		Long: `Start an HTTP server giving UI clients access to booking records.

Each opened record gets an editing session: local edits are merged with
changes from other writers, computed columns are recomputed after a short
debounce and writes are batched to the state database.`,
		Example: `  # Serve on the configured port
  bookcalc serve

  # Serve on a custom port without file watching
  bookcalc serve --port 9000 --watch=false`,
		RunE: runServe,
	}

	cmd.Flags().String("host", "", "Interface to listen on (default: 127.0.0.1)")
	cmd.Flags().Int("port", 0, "Port to serve on (default: 8790)")
	cmd.Flags().Bool("watch", true, "Reload functions and columns when their files change")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg := cmdCtx.Cfg

	store, err := cmdCtx.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer func() { _ = store.Close() }()

	srv := server.NewServer(server.Config{
		Registry:    cmdCtx.Registry,
		Library:     cmdCtx.Library,
		Store:       store,
		ColumnsPath: cfg.ColumnsPath,
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Watch:       cfg.Server.Watch,
		Timeout:     cfg.Engine.Timeout,
		MaxParallel: cfg.Engine.MaxParallel,
		MaxDepth:    cfg.Engine.MaxDepth,
		Debounce:    cfg.Scheduler.Debounce,
		BlurGrace:   cfg.Session.BlurGrace,
		MaxRecords:  cfg.Writes.MaxRecords,
		FlushWindow: cfg.Writes.FlushWindow,
		Retries:     cfg.Writes.Retries,
		RetryBase:   cfg.Writes.RetryBase,
		UserID:      cfg.Audit.UserID,
		UserName:    cfg.Audit.UserName,
		Logger:      cmdCtx.Logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
