// Package cli implements the gamelink command line interface: the root
// command runs the connector daemon, subcommands talk to a running
// instance over its JSON-RPC port.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/gamelink/internal/control"
	"github.com/vietddude/gamelink/internal/core/config"
	"github.com/vietddude/gamelink/internal/transport/rpcserver"
)

var (
	cfgPath string
	isDebug bool
	rpcURL  string
)

var rootCmd = &cobra.Command{
	Use:   "gamelink",
	Short: "Game-chain connector daemon",
	Long: `Gamelink connects a Xaya-Core-style or EVM base chain and exposes a
chain-agnostic notification and query interface for game state processors.`,
	Run: runConnector,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc-url", "http://localhost:8100", "JSON-RPC endpoint of a running connector")
}

func runConnector(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	app, err := control.NewController(cfg)
	if err != nil {
		slog.Error("Failed to initialize controller", "error", err)
		os.Exit(1)
	}

	rpcSrv := rpcserver.NewServer(app, cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	slog.Info("Connector starting", "config", cfgPath)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return rpcSrv.Stop(shutdownCtx)
	})
	g.Go(func() error {
		if err := rpcSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Connector terminated", "error", err)
		os.Exit(1)
	}

	slog.Info("Connector stopped gracefully")
}
