package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// Exit codes
const (
	ExitComplete = 0
	ExitError    = 1
	ExitPartial  = 2
)

// ErrPartial marks a run that finished without covering every prefix.
var ErrPartial = errors.New("crawl incomplete")

// CLI flags that override config file values
var (
	cfgFile   string
	logLevel  string
	logFormat string
	deadline  time.Duration
	noTree    bool
)

var rootCmd = &cobra.Command{
	Use:   "prefixcrawl",
	Short: "Exhaustive prefix crawler for capped directory searches",
	Long: `A resumable crawler that enumerates every record of a licensee directory
whose search returns at most a fixed number of rows per query.

Features:
  - Adaptive prefix expansion: saturated searches are refined by one character
  - Skip set persisted after every prefix, so restarts never repeat work
  - Disjoint root groups crawled concurrently, one session per worker
  - CSV result store deduplicated once at the end of each run
  - Live WebSocket viewer broadcasting newly harvested records

Running without a subcommand starts a crawl.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runCrawl,
}

// Execute runs the root command and exits with 0 when the crawl is complete,
// 2 when it is partial and 1 on any other error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitComplete
	case errors.Is(err, ErrPartial):
		return ExitPartial
	default:
		return ExitError
	}
}

func init() {
	// Defaults apply when this file is missing
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "prefixcrawl.yaml",
		"Path to configuration file")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	addCrawlFlags(rootCmd)
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel  string
	LogFormat string
	Deadline  time.Duration
	NoTree    bool
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:  logLevel,
		LogFormat: logFormat,
		Deadline:  deadline,
		NoTree:    noTree,
	}
}

// loadConfig loads, overrides and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	overrides := GetCLIOverrides()
	cfg.ApplyOverrides(overrides.LogLevel, overrides.LogFormat, overrides.Deadline, overrides.NoTree)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and builds the logger from it.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}
