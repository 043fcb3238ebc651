package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/database"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/prefix"
)

var validateExport bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate checks the configuration file and prints the effective crawl plan.

Checks performed:
  - Configuration syntax and required fields
  - Alphabet and root group disjointness
  - Export target settings and connectivity (with --export)

Example:
  prefixcrawl validate --config prefixcrawl.yaml
  prefixcrawl validate --export`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateExport, "export", false,
		"Also validate the export target and test the connection")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	cfg, err := loadConfig()
	if err != nil {
		cmd.Printf("❌ %v\n", err)
		return fmt.Errorf("configuration is invalid")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Configuration Validation ===\n")
	fmt.Fprintf(out, "Config file: %s\n", configFile)
	if err := describePlan(out, cfg); err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return fmt.Errorf("configuration is invalid")
	}

	if validateExport {
		if err := cfg.ValidateExport(); err != nil {
			fmt.Fprintf(out, "❌ %v\n", err)
			return fmt.Errorf("export configuration is invalid")
		}

		log, err := logger.New(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		dbManager := database.NewManager(&cfg.Export.Target, log)
		if err := dbManager.Connect(ctx); err != nil {
			fmt.Fprintf(out, "❌ Export target unreachable: %v\n", err)
			return fmt.Errorf("export target unreachable")
		}
		defer dbManager.Close()
		fmt.Fprintf(out, "✅ Export target %s:%d reachable\n", cfg.Export.Target.Host, cfg.Export.Target.Port)
	}

	fmt.Fprintln(out, "\n=== Validation Complete ===")
	fmt.Fprintln(out, "✅ Configuration is valid")
	return nil
}

// describePlan prints the directory and the worker groups the crawl would use.
func describePlan(out io.Writer, cfg *config.Config) error {
	alphabet, err := prefix.NewAlphabet(cfg.Crawl.Alphabet)
	if err != nil {
		return fmt.Errorf("invalid crawl alphabet: %w", err)
	}
	groups := cfg.Crawl.Groups
	if len(groups) == 0 {
		groups, err = alphabet.Partition(cfg.Crawl.Workers)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Directory: %s", cfg.Directory.Driver)
	if cfg.Directory.Driver == config.DriverHTTP {
		fmt.Fprintf(out, " (%s)", cfg.Directory.BaseURL)
	}
	fmt.Fprintf(out, "\nCategory: %s\n", cfg.Directory.Category)
	fmt.Fprintf(out, "Result cap: %d\n", cfg.Directory.ResultCap)
	fmt.Fprintf(out, "Workers: %d\n", len(groups))
	for i, g := range groups {
		fmt.Fprintf(out, "  %d. %v\n", i+1, g)
	}
	return nil
}
