package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath     string
	SupervoxelPath string
	ContactPath    string
	ScorePath      string
	OutputDir      string
	LogLevel       string
	LogFormat      string
	MetricsPort    int
	ShowVersion    bool
	ShowHelp       bool
	Validate       bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("SYCONN_CONFIG", ""),
		"Path to configuration file; defaults apply when empty (env: SYCONN_CONFIG)")

	flag.StringVar(&cfg.SupervoxelPath, "supervoxels",
		getEnv("SYCONN_SUPERVOXELS", ""),
		"Path to the supervoxel JSON-lines file (env: SYCONN_SUPERVOXELS)")

	flag.StringVar(&cfg.ContactPath, "contacts",
		getEnv("SYCONN_CONTACTS", ""),
		"Path to the contact JSON-lines file (env: SYCONN_CONTACTS)")

	flag.StringVar(&cfg.ScorePath, "scores",
		getEnv("SYCONN_SCORES", ""),
		"Path to precomputed per-supervoxel classifier scores (env: SYCONN_SCORES)")

	flag.StringVar(&cfg.OutputDir, "output",
		getEnv("SYCONN_OUTPUT", ""),
		"Output directory for run artifacts (env: SYCONN_OUTPUT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SYCONN_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SYCONN_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SYCONN_LOG_FORMAT", "json"),
		"Log format: json, text (env: SYCONN_LOG_FORMAT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("SYCONN_METRICS_PORT", -1),
		"Metrics port override, 0 to disable (env: SYCONN_METRICS_PORT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Supervoxel Agglomeration and Connectivity Inference

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run a full pipeline over extracted supervoxel artifacts
  %s --supervoxels=/data/supervoxels.jsonl --contacts=/data/contacts.jsonl --output=/data/run1

  # Run with a configuration file and text logs
  %s --config=/etc/syconn/config.json --log-level=debug --log-format=text

  # Validate configuration only
  %s --config=/etc/syconn/config.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
