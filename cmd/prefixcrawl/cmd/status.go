package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/prefix"
	"github.com/dbsmedya/prefixcrawl/internal/results"
	"github.com/dbsmedya/prefixcrawl/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize crawl progress",
	Long: `Status reads the state file and the result file and reports:
  - Prefix counts per status (empty, harvested, deferred)
  - Deferred prefixes that the next crawl will retry
  - Whether each root prefix is fully covered
  - The number of records collected

Example:
  prefixcrawl status --config prefixcrawl.yaml`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	skip, res, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	return writeStatus(cmd.OutOrStdout(), cfg, skip, res)
}

var statusOrder = []state.Status{
	state.StatusEmpty,
	state.StatusHarvested,
	state.StatusProcessed,
	state.StatusDeferred,
}

// rootWidth is the display width of the root column.
const rootWidth = 12

func writeStatus(out io.Writer, cfg *config.Config, skip *state.Store, res *results.Store) error {
	summary, err := skip.Summary()
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	deferred, err := skip.Deferred()
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	count, err := res.Count()
	if err != nil {
		return fmt.Errorf("failed to count results: %w", err)
	}
	alphabet, err := prefix.NewAlphabet(cfg.Crawl.Alphabet)
	if err != nil {
		return fmt.Errorf("invalid crawl alphabet: %w", err)
	}
	roots := configuredRoots(&cfg.Crawl, alphabet)

	fmt.Fprintf(out, "State file:   %s\n", skip.Path())
	fmt.Fprintf(out, "Results file: %s\n", res.Path())
	fmt.Fprintf(out, "Records:      %d\n\n", count)

	fmt.Fprintln(out, "Prefixes:")
	for _, st := range statusOrder {
		if st == state.StatusProcessed && summary[st] == 0 {
			continue
		}
		fmt.Fprintf(out, "  %s %d\n", runewidth.FillRight(string(st)+":", rootWidth), summary[st])
	}

	if len(deferred) > 0 {
		fmt.Fprintf(out, "\nDeferred (retried by the next crawl):\n")
		for _, p := range deferred {
			fmt.Fprintf(out, "  - %s\n", p)
		}
	}

	covered := 0
	var lines []string
	for _, root := range roots {
		ok, err := skip.SubtreeCovered(root, alphabet.Children)
		if err != nil {
			return fmt.Errorf("failed to check coverage of %q: %w", root, err)
		}
		mark := color.FgRed.Render("pending")
		if ok {
			covered++
			mark = color.FgGreen.Render("covered")
		}
		lines = append(lines, "  "+runewidth.FillRight(root, rootWidth)+" "+mark)
	}

	fmt.Fprintf(out, "\nRoots: %d/%d covered\n", covered, len(roots))
	fmt.Fprintln(out, strings.Join(lines, "\n"))
	return nil
}

// configuredRoots returns the crawl's root prefixes in group order.
func configuredRoots(cfg *config.CrawlConfig, alphabet prefix.Alphabet) []string {
	if len(cfg.Groups) == 0 {
		return alphabet.Roots()
	}
	var roots []string
	for _, g := range cfg.Groups {
		roots = append(roots, g...)
	}
	return roots
}
