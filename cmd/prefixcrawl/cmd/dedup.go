package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/prefixcrawl/internal/results"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Remove duplicate records from the result file",
	Long: `Dedup rewrites the result file keeping the first occurrence of every
record. A crawl runs this automatically when it finishes; use this command
after an interrupted crawl.

Example:
  prefixcrawl dedup --config prefixcrawl.yaml`,
	RunE: runDedup,
}

func init() {
	rootCmd.AddCommand(dedupCmd)
}

func runDedup(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	res, err := results.Open(cfg.Storage.ResultsFile, types.Header, log)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}

	removed, err := res.FinalizeDedup()
	if err != nil {
		return fmt.Errorf("failed to deduplicate results: %w", err)
	}
	count, err := res.Count()
	if err != nil {
		return fmt.Errorf("failed to count results: %w", err)
	}

	cmd.Printf("Removed %d duplicate record(s) from %s (%d remaining)\n", removed, res.Path(), count)
	return nil
}
