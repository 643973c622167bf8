package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/siohaza/catchd/internal/catch"
	"github.com/siohaza/catchd/internal/persist"
	"github.com/siohaza/catchd/internal/server"
	"github.com/siohaza/catchd/internal/stats"
	"github.com/siohaza/catchd/internal/storage/sqlite"
	"github.com/siohaza/catchd/internal/telemetry"
	"github.com/siohaza/catchd/pkg/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	version    = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "catchd",
	Short: "catchd - round-based catch game server",
	Long: `catchd runs zCatch style catch rounds with persistent player stats,
or a Lua scripted game mode on the same session engine.`,
	Version: version,
	Run:     runServer,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the catchd server",
	Long:  "Start the catchd server with the specified configuration",
	Run:   runServer,
}

var statsCmd = &cobra.Command{
	Use:   "stats <player>",
	Short: "Print the persisted stats of a player",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("catchd v%s\n", version)
		fmt.Println("Built with Go")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.toml", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var logWriter io.Writer = os.Stdout
	var logFile *os.File

	if cfg.Server.LogToFile {
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
			os.Exit(1)
		}

		timestamp := time.Now().Unix()
		logPath := filepath.Join(logDir, fmt.Sprintf("catchd_%d.log", timestamp))

		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer logFile.Close()

		logWriter = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting catchd server", "version", version)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "catchd", cfg.Server.OTelEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	logger.Info("server running",
		"name", cfg.Server.Name,
		"address", fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		"gamemode", cfg.Server.Gamemode,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped successfully")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))

	store, err := sqlite.Open(cfg.Stats.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open stats store: %w", err)
	}
	defer store.Close()

	schema, err := stats.BaseSchema.With(catch.Columns...)
	if err != nil {
		return fmt.Errorf("failed to build stats schema: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	queue := persist.New(store, persist.Config{Workers: 1, QueueSize: 2, Logger: logger})
	queue.Start(ctx)
	defer queue.Stop()

	created, err := queue.SubmitCreate(cfg.Catch.StatsTable, schema)
	if err != nil {
		return err
	}
	if err := created.Wait(ctx); err != nil {
		return fmt.Errorf("failed to prepare stats table: %w", err)
	}

	res, err := queue.SubmitRead(persist.NewReadRequest(args[0], cfg.Catch.StatsTable, schema))
	if err != nil {
		return err
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	if !res.Found() {
		fmt.Fprintf(cmd.OutOrStdout(), "'%s' has no stats yet.\n", args[0])
		return nil
	}

	rec := res.Record()
	tickRate := int64(cfg.Server.TickRate)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "stats for '%s'\n", args[0])
	fmt.Fprintf(out, "  points:          %d\n", rec.Points)
	fmt.Fprintf(out, "  kills:           %d\n", rec.Kills)
	fmt.Fprintf(out, "  deaths:          %d\n", rec.Deaths)
	fmt.Fprintf(out, "  wins:            %d\n", rec.Wins)
	fmt.Fprintf(out, "  losses:          %d\n", rec.Losses)
	fmt.Fprintf(out, "  best spree:      %d\n", rec.BestSpree)
	fmt.Fprintf(out, "  seconds in game: %d\n", rec.TicksInGame/tickRate)
	fmt.Fprintf(out, "  seconds caught:  %d\n", rec.TicksCaught/tickRate)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
