package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Directory defaults mirror the observed deployment
	if cfg.Directory.ResultCap != 50 {
		t.Errorf("expected result_cap 50, got %d", cfg.Directory.ResultCap)
	}
	if cfg.Directory.Category != "Physician" {
		t.Errorf("expected category 'Physician', got %s", cfg.Directory.Category)
	}
	if cfg.Directory.DetailTimeout != 120*time.Second {
		t.Errorf("expected detail_timeout 120s, got %s", cfg.Directory.DetailTimeout)
	}
	if cfg.Directory.PollInterval != 2*time.Second {
		t.Errorf("expected poll_interval 2s, got %s", cfg.Directory.PollInterval)
	}
	if cfg.Directory.Driver != DriverMemory {
		t.Errorf("expected memory driver by default, got %s", cfg.Directory.Driver)
	}

	// Crawl defaults
	if cfg.Crawl.Alphabet != DefaultAlphabet {
		t.Errorf("expected default alphabet, got %s", cfg.Crawl.Alphabet)
	}
	if cfg.Crawl.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Crawl.Workers)
	}
	if cfg.Crawl.Deadline != 0 {
		t.Errorf("expected no deadline by default, got %s", cfg.Crawl.Deadline)
	}

	// Storage defaults
	if cfg.Storage.ResultsFile != "results/results.csv" {
		t.Errorf("unexpected results_file %s", cfg.Storage.ResultsFile)
	}
	if cfg.Storage.StateFile != "excep/searcher.json" {
		t.Errorf("unexpected state_file %s", cfg.Storage.StateFile)
	}

	// Viewer defaults
	if cfg.Viewer.Interval != 2*time.Second {
		t.Errorf("expected viewer interval 2s, got %s", cfg.Viewer.Interval)
	}
	if cfg.Viewer.MaxDelta != 100 {
		t.Errorf("expected max_delta 100, got %d", cfg.Viewer.MaxDelta)
	}

	// Export defaults
	if cfg.Export.Target.Port != 3306 {
		t.Errorf("expected export port 3306, got %d", cfg.Export.Target.Port)
	}
	if cfg.Export.Table != "licensees" {
		t.Errorf("expected export table 'licensees', got %s", cfg.Export.Table)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyOverrides("debug", "json", 5*time.Minute, true)

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level override, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected format override, got %s", cfg.Logging.Format)
	}
	if cfg.Crawl.Deadline != 5*time.Minute {
		t.Errorf("expected deadline override, got %s", cfg.Crawl.Deadline)
	}
	if cfg.Crawl.Tree {
		t.Errorf("expected tree output disabled")
	}
}

func TestApplyOverrides_ZeroValuesKeepConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Crawl.Deadline = time.Hour
	cfg.ApplyOverrides("", "", 0, false)

	if cfg.Logging.Level != "info" {
		t.Errorf("level should be unchanged, got %s", cfg.Logging.Level)
	}
	if cfg.Crawl.Deadline != time.Hour {
		t.Errorf("deadline should be unchanged, got %s", cfg.Crawl.Deadline)
	}
	if !cfg.Crawl.Tree {
		t.Errorf("tree should stay enabled")
	}
}
