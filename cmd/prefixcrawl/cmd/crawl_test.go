package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/crawler"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Directory.Memory.Records = 600
	cfg.Directory.Memory.Seed = 11
	cfg.Crawl.RetryInterval = 0
	cfg.Storage.ResultsFile = filepath.Join(dir, "results", "results.csv")
	cfg.Storage.StateFile = filepath.Join(dir, "excep", "searcher.json")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestCrawlCommandStructure(t *testing.T) {
	assert.Equal(t, "crawl", crawlCmd.Use)
	assert.NotEmpty(t, crawlCmd.Short)
	assert.Contains(t, crawlCmd.Long, "Example:")
	assert.NotNil(t, crawlCmd.RunE)
}

func TestCrawl_MemoryDirectory(t *testing.T) {
	cfg := testConfig(t)
	log := logger.NewNop()
	want := newMemoryDirectory(&cfg.Directory).Matching("", cfg.Directory.Category)
	require.Positive(t, want)

	skip, res, err := openStores(cfg, log)
	require.NoError(t, err)

	var tree bytes.Buffer
	result, err := crawl(context.Background(), cfg, log, &tree, skip, res)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Len(t, result.Workers, cfg.Crawl.Workers)
	assert.Equal(t, want, result.Totals.Records)
	assert.Contains(t, tree.String(), "[w1]")
	require.NoError(t, runResultError(result))

	count, err := res.Count()
	require.NoError(t, err)
	assert.Equal(t, want, count)

	// A second pass harvests nothing new
	again, err := crawl(context.Background(), cfg, log, nil, skip, res)
	require.NoError(t, err)
	assert.True(t, again.Complete)
	assert.Zero(t, again.Totals.Records)
	assert.Zero(t, again.Totals.Harvested)

	count, err = res.Count()
	require.NoError(t, err)
	assert.Equal(t, want, count)
}

func TestCrawl_FreshReset(t *testing.T) {
	cfg := testConfig(t)
	log := logger.NewNop()
	skip, res, err := openStores(cfg, log)
	require.NoError(t, err)

	_, err = crawl(context.Background(), cfg, log, nil, skip, res)
	require.NoError(t, err)

	require.NoError(t, resetStores(cfg, log, skip, res))
	count, err := res.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
	summary, err := skip.Summary()
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestCrawl_HTTPDriverUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directory.Driver = config.DriverHTTP
	cfg.Directory.BaseURL = "http://127.0.0.1:1"
	cfg.Directory.RequestTimeout = 200 * time.Millisecond
	cfg.Crawl.RetryAttempts = 0
	log := logger.NewNop()

	skip, res, err := openStores(cfg, log)
	require.NoError(t, err)

	result, err := crawl(context.Background(), cfg, log, nil, skip, res)
	require.NoError(t, err)
	assert.False(t, result.Complete)

	err = runResultError(result)
	assert.ErrorIs(t, err, ErrPartial)
	assert.Equal(t, ExitPartial, ExitCode(err))
}

func TestRunResultError(t *testing.T) {
	tests := []struct {
		name    string
		result  *crawler.RunResult
		wantErr string
	}{
		{name: "complete", result: &crawler.RunResult{Complete: true}},
		{name: "deadline", result: &crawler.RunResult{Cancelled: true, DeadlineReached: true}, wantErr: "deadline reached"},
		{name: "interrupted", result: &crawler.RunResult{Cancelled: true}, wantErr: "interrupted"},
		{
			name: "worker failed",
			result: &crawler.RunResult{Workers: []crawler.WorkerResult{
				{ID: 1},
				{ID: 2, Err: errors.New("session failed")},
			}},
			wantErr: "1 worker(s) failed: worker 2: session failed",
		},
		{
			name:    "deferred",
			result:  &crawler.RunResult{Totals: crawler.Stats{Deferred: 3}},
			wantErr: "3 prefix(es) deferred",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runResultError(tt.result)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPartial)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPrintRunResult(t *testing.T) {
	var buf bytes.Buffer
	printRunResult(&buf, &crawler.RunResult{
		Workers:           []crawler.WorkerResult{{ID: 1, Err: errors.New("session failed")}},
		Totals:            crawler.Stats{Queries: 12, Harvested: 4, Records: 30, Deferred: 1},
		DuplicatesRemoved: 2,
	})

	out := buf.String()
	assert.Contains(t, out, "Queries: 12")
	assert.Contains(t, out, "4 harvested")
	assert.Contains(t, out, "1 deferred")
	assert.Contains(t, out, "Records: 30")
	assert.Contains(t, out, "Duplicates removed: 2")
	assert.Contains(t, out, "worker 1: session failed")
}

func TestExecute_DedupCommand(t *testing.T) {
	orig := cfgFile
	defer func() { cfgFile = orig }()

	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Storage.ResultsFile), 0o755))
	csv := "Full_Name,License_Type,License_Number,Status,Professional,Issued,Expired\n" +
		"ADAMS JO,MD,1,Active,Physician,,\n" +
		"ADAMS JO,MD,1,Active,Physician,,\n"
	require.NoError(t, os.WriteFile(cfg.Storage.ResultsFile, []byte(csv), 0o644))

	path := filepath.Join(t.TempDir(), "prefixcrawl.yaml")
	yaml := "storage:\n" +
		"  results_file: " + cfg.Storage.ResultsFile + "\n" +
		"  state_file: " + cfg.Storage.StateFile + "\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"dedup", "--config", path})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.Contains(out.String(), "Removed 1 duplicate record(s)"), out.String())
	assert.Contains(t, out.String(), "(1 remaining)")
}
