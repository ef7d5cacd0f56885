package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sandrun/internal/config"
	"github.com/jkaninda/sandrun/internal/gateway/mcp"
	"github.com/jkaninda/sandrun/internal/storage"
)

var (
	mcpConfigPath string
	mcpNoStore    bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the execution tools over MCP on stdio",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	mcpCmd.Flags().BoolVar(&mcpNoStore, "no-store", false, "do not offer saved functions")
}

func runMCP(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(mcpConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	var functions storage.FunctionStore
	if !mcpNoStore {
		store, err := initStore(cfg, logger)
		if err != nil {
			return err
		}
		sc.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		})
		functions = store.Functions()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return mcp.NewServer(sc.Executor, functions, version, logger).Serve(ctx, os.Stdin, os.Stdout)
}
