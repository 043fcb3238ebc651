// Package crawler enumerates a capped directory by adaptive prefix expansion
// and runs one enumeration per root group in parallel.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/prefix"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// ErrSessionFailed wraps the error that made a worker's session unusable.
var ErrSessionFailed = errors.New("session failed")

// SkipSet is the durable record of finished prefixes.
type SkipSet interface {
	IsProcessed(prefix string) (bool, error)
	MarkEmpty(prefix string) error
	MarkHarvested(prefix string) error
	MarkDeferred(prefix string) error
}

// Sink receives harvested records.
type Sink interface {
	Append(records ...types.Record) error
}

// Options tune the traversal.
type Options struct {
	Category      string
	ResultCap     int
	RetryAttempts int
	RetryInterval time.Duration
}

// Stats counts what one engine did.
type Stats struct {
	Queries           int
	Retries           int
	Skipped           int // already processed, not queried
	Empty             int
	Harvested         int
	Expanded          int
	Deferred          int
	Records           int
	BlankCandidates   int
	CandidateFailures int
	PersistFailures   int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Queries += other.Queries
	s.Retries += other.Retries
	s.Skipped += other.Skipped
	s.Empty += other.Empty
	s.Harvested += other.Harvested
	s.Expanded += other.Expanded
	s.Deferred += other.Deferred
	s.Records += other.Records
	s.BlankCandidates += other.BlankCandidates
	s.CandidateFailures += other.CandidateFailures
	s.PersistFailures += other.PersistFailures
}

// Engine walks the prefix tree below a set of roots with one session.
// It is not safe for concurrent use; run one Engine per worker.
type Engine struct {
	session  directory.Session
	skip     SkipSet
	sink     Sink
	alphabet prefix.Alphabet
	opts     Options
	reporter Reporter
	logger   *logger.Logger
	stats    Stats
}

// NewEngine creates an engine. A nil reporter reports nothing.
func NewEngine(session directory.Session, skip SkipSet, sink Sink, alphabet prefix.Alphabet, opts Options, reporter Reporter, log *logger.Logger) *Engine {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		session:  session,
		skip:     skip,
		sink:     sink,
		alphabet: alphabet,
		opts:     opts,
		reporter: reporter,
		logger:   log,
	}
}

// Stats returns the counters so far.
func (e *Engine) Stats() Stats {
	return e.stats
}

type node struct {
	prefix string
	depth  int
}

// Process enumerates everything below p, p included.
func (e *Engine) Process(ctx context.Context, p string, depth int) error {
	return e.walk(ctx, []node{{prefix: p, depth: depth}})
}

// ProcessAll enumerates each root in order.
func (e *Engine) ProcessAll(ctx context.Context, roots []string) error {
	stack := make([]node, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, node{prefix: roots[i], depth: prefix.Depth(roots[i])})
	}
	return e.walk(ctx, stack)
}

// walk drains a LIFO stack. Children are pushed in reverse so they pop in
// alphabet order, giving the same visit order as a depth-first recursion.
func (e *Engine) walk(ctx context.Context, stack []node) error {
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := e.visit(ctx, n)
		if err != nil {
			return err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, node{prefix: children[i], depth: n.depth + 1})
		}
	}
	return nil
}

// visit queries one prefix and returns the children to explore.
func (e *Engine) visit(ctx context.Context, n node) ([]string, error) {
	log := e.logger.WithPrefix(n.prefix)

	processed, err := e.skip.IsProcessed(n.prefix)
	if err != nil {
		// Querying again is safe: duplicates are removed after the run
		e.stats.PersistFailures++
		log.Errorw("Failed to read skip set", "error", err)
	}
	if processed {
		e.stats.Skipped++
		e.reporter.Skipped(n.prefix, n.depth)
		return nil, nil
	}

	res, err := e.search(ctx, n.prefix)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if directory.IsTransient(err) {
			e.stats.Deferred++
			log.Warnw("Search kept failing, deferring prefix", "attempts", e.opts.RetryAttempts+1, "error", err)
			e.reporter.Deferred(n.prefix, n.depth, err)
			e.mark(log, e.skip.MarkDeferred, n.prefix)
			return nil, nil
		}
		log.Errorw("Session failed", "error", err)
		return nil, fmt.Errorf("%w at prefix %q: %w", ErrSessionFailed, n.prefix, err)
	}

	count := res.Count()
	switch {
	case count == 0:
		e.stats.Empty++
		e.reporter.Empty(n.prefix, n.depth)
		e.mark(log, e.skip.MarkEmpty, n.prefix)
		return nil, nil

	case count < e.opts.ResultCap:
		e.reporter.Harvesting(n.prefix, n.depth, count)
		complete, err := e.harvest(ctx, log, n, res.Candidates())
		if err != nil {
			return nil, err
		}
		if !complete {
			// Retried by the next run; records already appended dedup away
			e.stats.Deferred++
			log.Warnw("Batch incomplete, deferring prefix", "candidates", count)
			e.mark(log, e.skip.MarkDeferred, n.prefix)
			return nil, nil
		}
		e.stats.Harvested++
		e.mark(log, e.skip.MarkHarvested, n.prefix)
		return nil, nil

	default:
		e.stats.Expanded++
		log.Debugw("Result cap reached, expanding", "count", count)
		e.reporter.Expanding(n.prefix, n.depth, count)
		return e.alphabet.Children(n.prefix), nil
	}
}

// search runs one query with bounded exponential backoff on transient errors.
func (e *Engine) search(ctx context.Context, p string) (directory.ResultHandle, error) {
	var res directory.ResultHandle
	op := func() error {
		e.stats.Queries++
		r, err := e.session.Search(ctx, p, e.opts.Category)
		if err != nil {
			if ctx.Err() != nil || !directory.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.stats.Retries++
		e.logger.Debugw("Retrying search", "prefix", p, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, e.retryPolicy(ctx), notify); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) retryPolicy(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if e.opts.RetryInterval > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = e.opts.RetryInterval
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	attempts := e.opts.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx)
}

// harvest opens every candidate of a listing. It reports whether every
// candidate ended up in the sink; an error means the session is unusable
// or the run was cancelled.
func (e *Engine) harvest(ctx context.Context, log *logger.Logger, n node, refs []directory.CandidateRef) (bool, error) {
	complete := true
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if strings.TrimSpace(ref.Label) == "" {
			e.stats.BlankCandidates++
			log.Warnw("Candidate has no label, skipping", "id", ref.ID)
			continue
		}

		rec, err := e.harvestOne(ctx, ref)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			if errors.Is(err, directory.ErrSessionClosed) {
				return false, fmt.Errorf("%w at prefix %q: %w", ErrSessionFailed, n.prefix, err)
			}
			complete = false
			e.stats.CandidateFailures++
			log.Warnw("Candidate failed, skipping", "candidate", ref.Label, "error", err)
			e.reporter.CandidateFailed(n.prefix, n.depth, ref, err)
		} else if err := e.sink.Append(rec); err != nil {
			complete = false
			e.stats.PersistFailures++
			log.Errorw("Failed to store record", "candidate", ref.Label, "error", err)
		} else {
			e.stats.Records++
			e.reporter.Record(n.prefix, n.depth, rec)
		}

		// Start the next candidate from the listing whatever happened
		if err := e.session.ReturnToList(ctx); err != nil {
			log.Debugw("Failed to return to listing", "error", err)
		}
	}
	return complete, nil
}

func (e *Engine) harvestOne(ctx context.Context, ref directory.CandidateRef) (types.Record, error) {
	view, err := e.session.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.session.Extract(ctx, view)
}

func (e *Engine) mark(log *logger.Logger, mark func(string) error, p string) {
	if err := mark(p); err != nil {
		e.stats.PersistFailures++
		log.Errorw("Failed to update skip set", "error", err)
	}
}
