package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/gate"
	"github.com/liftgate/liftgate/internal/server"
	"github.com/liftgate/liftgate/internal/stats"
	"github.com/liftgate/liftgate/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and evaluation loop",
	Long: `Start the liftgate HTTP server.

The server provides:
  - Event ingestion for variant counters
  - Experiment snapshots and evaluation results
  - Safety check submission and lookup
  - The deployment gate

Running experiments are re-evaluated in the background on a fixed
interval.

Example:
  liftgate serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("db") {
		cfg.Storage.Path = dbPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	engine := stats.NewEngine(s, engineConfig(cfg), logger)
	g := gate.New(s, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	interval := time.Duration(cfg.Engine.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go engine.Run(ctx, interval, cfg.Engine.EvaluationWorkers)

	srv := server.New(s, engine, g, cfg.Server.Port, cfg.Server.AuthToken, logger)
	return srv.Start()
}
