package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/prefixcrawl/internal/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "complete", err: nil, want: ExitComplete},
		{name: "partial", err: fmt.Errorf("%w: 2 prefix(es) deferred", ErrPartial), want: ExitPartial},
		{name: "wrapped partial", err: fmt.Errorf("outer: %w", ErrPartial), want: ExitPartial},
		{name: "error", err: errors.New("failed to open state store"), want: ExitError},
		{name: "validation", err: config.ValidationErrors{{Field: "crawl.alphabet", Message: "alphabet cannot be empty"}}, want: ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestRootDefaults(t *testing.T) {
	assert.Equal(t, "prefixcrawl.yaml", rootCmd.PersistentFlags().Lookup("config").DefValue)
	assert.Equal(t, "c", rootCmd.PersistentFlags().Lookup("config").Shorthand)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-format"))

	// Crawling is the default action, so the root carries the crawl flags
	assert.NotNil(t, rootCmd.RunE)
	for _, name := range []string{"fresh", "serve", "deadline", "no-tree"} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
		assert.NotNil(t, crawlCmd.Flags().Lookup(name), name)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"crawl", "serve", "dedup", "status", "export", "validate", "mock-directory", "version"}

	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, registered[name], "%s should be added to root command", name)
	}
}

func TestGetCLIOverrides(t *testing.T) {
	origLevel, origFormat, origDeadline, origNoTree := logLevel, logFormat, deadline, noTree
	defer func() {
		logLevel, logFormat, deadline, noTree = origLevel, origFormat, origDeadline, origNoTree
	}()

	logLevel, logFormat, deadline, noTree = "debug", "json", 30*time.Minute, true
	assert.Equal(t, CLIOverrides{
		LogLevel:  "debug",
		LogFormat: "json",
		Deadline:  30 * time.Minute,
		NoTree:    true,
	}, GetCLIOverrides())
}

func TestLoadConfig(t *testing.T) {
	origCfg, origLevel := cfgFile, logLevel
	defer func() { cfgFile, logLevel = origCfg, origLevel }()

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfgFile = filepath.Join(t.TempDir(), "absent.yaml")
		logLevel = ""

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, config.DefaultConfig(), cfg)
	})

	t.Run("file values and overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prefixcrawl.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
directory:
  result_cap: 20
crawl:
  workers: 2
logging:
  level: warn
`), 0o644))
		cfgFile = path
		logLevel = "debug"

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Directory.ResultCap)
		assert.Equal(t, 2, cfg.Crawl.Workers)
		assert.Equal(t, "debug", cfg.Logging.Level, "flag wins over file")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prefixcrawl.yaml")
		require.NoError(t, os.WriteFile(path, []byte("crawl:\n  alphabet: AAB\n"), 0o644))
		cfgFile = path
		logLevel = ""

		_, err := loadConfig()
		var verrs config.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Contains(t, err.Error(), "duplicate character")
	})
}
