package cmd

import (
	"bytes"
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/prefix"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

func TestWriteStatus(t *testing.T) {
	enabled := color.Enable
	color.Enable = false
	defer func() { color.Enable = enabled }()

	cfg := testConfig(t)
	cfg.Crawl.Alphabet = "ABC"
	cfg.Crawl.Workers = 1

	skip, res, err := openStores(cfg, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, skip.MarkHarvested("A"))
	require.NoError(t, skip.MarkEmpty("BA"))
	require.NoError(t, skip.MarkHarvested("BB"))
	require.NoError(t, skip.MarkHarvested("BC"))
	require.NoError(t, skip.MarkDeferred("CA"))
	require.NoError(t, res.Append(
		types.Record{"ADAMS JO", "MD", "1", "Active", "Physician", "", ""},
		types.Record{"BAKER LI", "MD", "2", "Active", "Physician", "", ""},
	))

	var buf bytes.Buffer
	require.NoError(t, writeStatus(&buf, cfg, skip, res))

	out := buf.String()
	assert.Contains(t, out, "Records:      2")
	assert.Regexp(t, `empty:\s+1`, out)
	assert.Regexp(t, `harvested:\s+3`, out)
	assert.Regexp(t, `deferred:\s+1`, out)
	assert.NotContains(t, out, "processed:")
	assert.Contains(t, out, "  - CA")
	assert.Contains(t, out, "Roots: 2/3 covered")
	assert.Regexp(t, `A\s+covered`, out)
	assert.Regexp(t, `B\s+covered`, out)
	assert.Regexp(t, `C\s+pending`, out)
}

func TestConfiguredRoots(t *testing.T) {
	alphabet, err := prefix.NewAlphabet("ABC")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, configuredRoots(&config.CrawlConfig{}, alphabet))
	assert.Equal(t, []string{"SM", "ST", "A"},
		configuredRoots(&config.CrawlConfig{Groups: [][]string{{"SM", "ST"}, {"A"}}}, alphabet))
}
