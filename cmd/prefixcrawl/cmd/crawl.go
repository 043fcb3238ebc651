package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/prefixcrawl/internal/broadcast"
	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/crawler"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/results"
	"github.com/dbsmedya/prefixcrawl/internal/state"
)

var (
	crawlFresh bool
	crawlServe bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Enumerate the directory",
	Long: `Crawl searches every root prefix, harvesting prefixes whose result count
is under the cap and expanding saturated ones by one character. Each finished
prefix is recorded in the state file, so an interrupted crawl resumes where it
stopped.

Exit status is 0 when every prefix was covered, 2 when some prefixes were
deferred, a worker failed or the deadline was reached, and 1 on errors.

Example:
  prefixcrawl crawl --config prefixcrawl.yaml
  prefixcrawl crawl --fresh --serve`,
	RunE: runCrawl,
}

func init() {
	addCrawlFlags(crawlCmd)
	rootCmd.AddCommand(crawlCmd)
}

// addCrawlFlags registers the crawl flags on cmd. The root command carries
// them too since it crawls by default.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&crawlFresh, "fresh", false,
		"Discard the state file and results before crawling")
	cmd.Flags().BoolVar(&crawlServe, "serve", false,
		"Run the live viewer alongside the crawl")
	cmd.Flags().DurationVar(&deadline, "deadline", 0,
		"Override the crawl deadline (e.g. 30m)")
	cmd.Flags().BoolVar(&noTree, "no-tree", false,
		"Do not print the prefix tree")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := SetupSignalHandler(context.Background(), func(sig os.Signal) {
		log.Warnw("Received shutdown signal, finishing current prefixes...", "signal", sig.String())
	})
	defer cancel()

	skip, res, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	if crawlFresh {
		if err := resetStores(cfg, log, skip, res); err != nil {
			return err
		}
	}

	var viewerDone chan error
	if crawlServe {
		viewerDone, err = startViewer(ctx, cfg, res, log)
		if err != nil {
			return err
		}
	}

	result, err := crawl(ctx, cfg, log, cmd.OutOrStdout(), skip, res)
	if err != nil {
		cancel()
		return err
	}
	printRunResult(cmd.OutOrStdout(), result)

	if viewerDone != nil {
		if ctx.Err() == nil {
			log.Infow("Crawl finished, viewer still running (Ctrl+C to stop)")
		}
		if err := <-viewerDone; err != nil {
			return err
		}
	}

	return runResultError(result)
}

func startViewer(ctx context.Context, cfg *config.Config, res *results.Store, log *logger.Logger) (chan error, error) {
	server := broadcast.NewServer(&cfg.Viewer, res, log)
	ln, err := server.Listen()
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx, ln)
	}()
	return done, nil
}

func resetStores(cfg *config.Config, log *logger.Logger, skip *state.Store, res *results.Store) error {
	log.Warnw("Discarding previous crawl",
		"state_file", cfg.Storage.StateFile,
		"results_file", cfg.Storage.ResultsFile)
	if err := skip.Reset(); err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}
	if err := res.Reset(); err != nil {
		return fmt.Errorf("failed to reset results: %w", err)
	}
	return nil
}

// crawl runs one coordinator pass over the configured directory.
func crawl(ctx context.Context, cfg *config.Config, log *logger.Logger, out io.Writer, skip *state.Store, res *results.Store) (*crawler.RunResult, error) {
	factory, release, err := newSessionFactory(cfg, log)
	if err != nil {
		return nil, err
	}
	defer release()

	coord, err := crawler.NewCoordinator(cfg, factory, skip, res, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	if cfg.Crawl.Tree && out != nil {
		tree := crawler.NewTreeReporter(out)
		coord.SetReporter(func(worker int) crawler.Reporter {
			return tree.ForWorker(worker)
		})
	}

	return coord.Run(ctx)
}

// runResultError returns nil for a complete run and an ErrPartial error
// describing what is missing otherwise.
func runResultError(result *crawler.RunResult) error {
	if result.Complete {
		return nil
	}
	switch {
	case result.DeadlineReached:
		return fmt.Errorf("%w: deadline reached", ErrPartial)
	case result.Cancelled:
		return fmt.Errorf("%w: interrupted", ErrPartial)
	}
	if errs := result.Errors(); len(errs) > 0 {
		return fmt.Errorf("%w: %d worker(s) failed: %v", ErrPartial, len(errs), errs[0])
	}
	return fmt.Errorf("%w: %d prefix(es) deferred, rerun to retry them", ErrPartial, result.Totals.Deferred)
}

func printRunResult(out io.Writer, result *crawler.RunResult) {
	fmt.Fprintf(out, "\n=== Crawl Summary ===\n")
	fmt.Fprintf(out, "Duration: %s\n", result.Duration)
	fmt.Fprintf(out, "Workers: %d\n", len(result.Workers))
	fmt.Fprintf(out, "Queries: %d (retries: %d)\n", result.Totals.Queries, result.Totals.Retries)
	fmt.Fprintf(out, "Prefixes: %d harvested, %d empty, %d expanded, %d skipped, %d deferred\n",
		result.Totals.Harvested, result.Totals.Empty, result.Totals.Expanded,
		result.Totals.Skipped, result.Totals.Deferred)
	fmt.Fprintf(out, "Records: %d\n", result.Totals.Records)
	fmt.Fprintf(out, "Duplicates removed: %d\n", result.DuplicatesRemoved)
	fmt.Fprintf(out, "Complete: %v\n", result.Complete)

	if errs := result.Errors(); len(errs) > 0 {
		fmt.Fprintf(out, "\nErrors:\n")
		for _, e := range errs {
			fmt.Fprintf(out, "  - %v\n", e)
		}
	}
}
