// Package main implements the entry point for the syconn pipeline.
// syconn agglomerates supervoxels into cellular objects, attaches
// classifier labels, splits glia-contaminated objects and derives a
// directed connectivity matrix from synapse evidence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ada52/SyConn/classify"
	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/export"
	"github.com/ada52/SyConn/metric"
	"github.com/ada52/SyConn/pipeline"
	"github.com/ada52/SyConn/storage"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "syconn"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Pipeline failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	skeleton, err := loadClassifier(cfg, logger)
	if err != nil {
		return err
	}

	metricsRegistry := metric.NewMetricsRegistry()
	metricsServer := startMetricsServer(cfg, metricsRegistry, logger)
	if metricsServer != nil {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Stop(stopCtx)
		}()
	}

	store, closeStore, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = closeStore(closeCtx)
	}()

	writer, err := export.NewWriter(cfg.IO.OutputDir, logger)
	if err != nil {
		return fmt.Errorf("create export writer: %w", err)
	}

	p, err := pipeline.New(cfg, skeleton, nil,
		pipeline.WithLogger(logger),
		pipeline.WithStore(store),
		pipeline.WithExportWriter(writer),
		pipeline.WithMetricsRegistry(metricsRegistry),
	)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	slog.Info("Run complete",
		"run_id", result.Report.RunID,
		"supervoxels", result.Report.Supervoxels,
		"objects", result.Report.Objects,
		"connectivity_edges", result.Report.ConnectivityEdges,
		"unresolved", len(result.Report.Unresolved),
		"output_dir", cfg.IO.OutputDir)
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)

	slog.Info("Starting syconn (supervoxel agglomeration and connectivity inference)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads the configuration file and applies CLI
// overrides. An empty config path runs on defaults.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	var cfg *config.Config
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if cliCfg.SupervoxelPath != "" {
		cfg.IO.SupervoxelPath = cliCfg.SupervoxelPath
	}
	if cliCfg.ContactPath != "" {
		cfg.IO.ContactPath = cliCfg.ContactPath
	}
	if cliCfg.ScorePath != "" {
		cfg.IO.NodeScorePath = cliCfg.ScorePath
	}
	if cliCfg.OutputDir != "" {
		cfg.IO.OutputDir = cliCfg.OutputDir
	}
	if cliCfg.MetricsPort >= 0 {
		cfg.Metrics.Port = cliCfg.MetricsPort
	}

	if cfg.IO.SupervoxelPath == "" && !cliCfg.Validate {
		return nil, fmt.Errorf("no supervoxel input: set --supervoxels or io.supervoxel_path")
	}
	if cfg.IO.OutputDir == "" && !cliCfg.Validate {
		return nil, fmt.Errorf("no output directory: set --output or io.output_dir")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadClassifier builds the skeleton classifier from the precomputed
// node score file.
func loadClassifier(cfg *config.Config, logger *slog.Logger) (classify.SkeletonClassifier, error) {
	if cfg.IO.NodeScorePath == "" {
		return nil, fmt.Errorf("no classifier scores: set --scores or io.node_score_path")
	}

	classifier, err := classify.LoadNodeScoreFile(cfg.IO.NodeScorePath)
	if err != nil {
		return nil, fmt.Errorf("load node scores: %w", err)
	}

	logger.Info("Loaded node scores",
		"path", cfg.IO.NodeScorePath,
		"supervoxels", classifier.Len())
	return classifier, nil
}

// startMetricsServer starts the prometheus endpoint unless disabled.
// Endpoint failures are logged, never fatal.
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) *metric.Server {
	if cfg.Metrics.Port == 0 {
		return nil
	}

	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	if err := server.Start(); err != nil {
		logger.Warn("Metrics server failed to start", "error", err, "port", cfg.Metrics.Port)
		return nil
	}

	logger.Info("Metrics server started", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	return server
}
