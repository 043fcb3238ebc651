package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/prefix"
)

// ResultSink is the shared result store: appended to by every worker and
// deduplicated once after all of them finish.
type ResultSink interface {
	Sink
	FinalizeDedup() (int, error)
}

// WorkerResult describes one worker's run.
type WorkerResult struct {
	ID       int
	Roots    []string
	Stats    Stats
	Duration time.Duration
	Err      error
}

// RunResult describes a whole run.
type RunResult struct {
	Workers           []WorkerResult
	Totals            Stats
	DuplicatesRemoved int
	Duration          time.Duration
	// Cancelled is set when the run was interrupted or hit its deadline.
	Cancelled bool
	// DeadlineReached is set when the configured deadline stopped the run.
	DeadlineReached bool
	// Complete means every worker finished without deferring a prefix.
	Complete bool
}

// Errors returns the worker failures.
func (r *RunResult) Errors() []error {
	var errs []error
	for _, w := range r.Workers {
		if w.Err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.ID, w.Err))
		}
	}
	return errs
}

// Coordinator splits the root prefixes into groups and runs one engine per
// group, each with its own session.
type Coordinator struct {
	factory  directory.SessionFactory
	skip     SkipSet
	results  ResultSink
	alphabet prefix.Alphabet
	groups   [][]string
	opts     Options
	deadline time.Duration
	reporter func(worker int) Reporter
	logger   *logger.Logger
}

// NewCoordinator builds a coordinator from the crawl and directory settings.
func NewCoordinator(cfg *config.Config, factory directory.SessionFactory, skip SkipSet, results ResultSink, log *logger.Logger) (*Coordinator, error) {
	alphabet, err := prefix.NewAlphabet(cfg.Crawl.Alphabet)
	if err != nil {
		return nil, fmt.Errorf("invalid crawl alphabet: %w", err)
	}

	groups := cfg.Crawl.Groups
	if len(groups) == 0 {
		groups, err = alphabet.Partition(cfg.Crawl.Workers)
		if err != nil {
			return nil, fmt.Errorf("failed to partition roots: %w", err)
		}
	}
	if err := prefix.Disjoint(groups); err != nil {
		return nil, fmt.Errorf("invalid crawl groups: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Coordinator{
		factory:  factory,
		skip:     skip,
		results:  results,
		alphabet: alphabet,
		groups:   groups,
		opts: Options{
			Category:      cfg.Directory.Category,
			ResultCap:     cfg.Directory.ResultCap,
			RetryAttempts: cfg.Crawl.RetryAttempts,
			RetryInterval: cfg.Crawl.RetryInterval,
		},
		deadline: cfg.Crawl.Deadline,
		reporter: func(int) Reporter { return NopReporter{} },
		logger:   log,
	}, nil
}

// SetReporter sets the per-worker reporter constructor.
func (c *Coordinator) SetReporter(fn func(worker int) Reporter) {
	c.reporter = fn
}

// Groups returns the root groups, one per worker.
func (c *Coordinator) Groups() [][]string {
	return c.groups
}

// Run crawls every group concurrently and deduplicates the results once all
// workers are done. A cancelled run skips deduplication.
func (c *Coordinator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	runCtx := ctx
	if c.deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}

	c.logger.Infow("Starting crawl",
		"workers", len(c.groups),
		"category", c.opts.Category,
		"result_cap", c.opts.ResultCap,
		"deadline", c.deadline,
	)

	result := &RunResult{Workers: make([]WorkerResult, len(c.groups))}
	var mu sync.Mutex

	p := pool.New().WithContext(runCtx)
	for i, group := range c.groups {
		id := i + 1
		roots := group
		p.Go(func(ctx context.Context) error {
			wr := c.runWorker(ctx, id, roots)
			mu.Lock()
			result.Workers[id-1] = wr
			mu.Unlock()
			return wr.Err
		})
	}
	// Worker errors are kept per worker in result
	_ = p.Wait()

	for _, w := range result.Workers {
		result.Totals.Add(w.Stats)
	}

	if err := runCtx.Err(); err != nil {
		result.Cancelled = true
		result.DeadlineReached = errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		result.Duration = time.Since(start)
		c.logger.Warnw("Crawl interrupted, skipping deduplication",
			"reason", err,
			"records", result.Totals.Records,
			"duration", result.Duration,
		)
		return result, nil
	}

	removed, err := c.results.FinalizeDedup()
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("failed to deduplicate results: %w", err)
	}
	result.DuplicatesRemoved = removed
	result.Complete = len(result.Errors()) == 0 && result.Totals.Deferred == 0

	c.logger.Infow("Crawl finished",
		"complete", result.Complete,
		"records", result.Totals.Records,
		"queries", result.Totals.Queries,
		"deferred", result.Totals.Deferred,
		"duplicates_removed", removed,
		"duration", result.Duration,
	)
	return result, nil
}

// runWorker owns one session for the lifetime of one group.
func (c *Coordinator) runWorker(ctx context.Context, id int, roots []string) WorkerResult {
	start := time.Now()
	log := c.logger.WithWorker(id)
	wr := WorkerResult{ID: id, Roots: roots}

	session, err := c.factory.NewSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Warnw("Worker not started", "reason", err)
			return wr
		}
		wr.Err = fmt.Errorf("failed to open session: %w", err)
		log.Errorw("Worker could not start", "error", err)
		return wr
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warnw("Failed to close session", "error", err)
		}
	}()

	log.Infow("Worker started", "roots", roots)
	engine := NewEngine(session, c.skip, c.results, c.alphabet, c.opts, c.reporter(id), log)
	err = engine.ProcessAll(ctx, roots)

	wr.Stats = engine.Stats()
	wr.Duration = time.Since(start)
	switch {
	case err == nil:
		log.Infow("Worker finished", "records", wr.Stats.Records, "duration", wr.Duration)
	case ctx.Err() != nil:
		log.Warnw("Worker stopped", "reason", err, "records", wr.Stats.Records)
	default:
		wr.Err = err
		log.Errorw("Worker failed", "error", err, "records", wr.Stats.Records)
	}
	return wr
}
