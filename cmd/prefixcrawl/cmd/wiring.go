package cmd

import (
	"fmt"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/directory"
	"github.com/dbsmedya/prefixcrawl/internal/directory/httpdir"
	"github.com/dbsmedya/prefixcrawl/internal/directory/memory"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/results"
	"github.com/dbsmedya/prefixcrawl/internal/state"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// openStores opens the skip set and the result store.
func openStores(cfg *config.Config, log *logger.Logger) (*state.Store, *results.Store, error) {
	skip, err := state.Open(cfg.Storage.StateFile, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	res, err := results.Open(cfg.Storage.ResultsFile, types.Header, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open result store: %w", err)
	}
	return skip, res, nil
}

// newSessionFactory builds the directory driver named by the configuration.
// The returned func releases driver resources.
func newSessionFactory(cfg *config.Config, log *logger.Logger) (directory.SessionFactory, func(), error) {
	switch cfg.Directory.Driver {
	case config.DriverMemory:
		dir := newMemoryDirectory(&cfg.Directory)
		log.Infow("Using synthetic directory",
			"records", len(dir.Records()),
			"seed", cfg.Directory.Memory.Seed)
		return dir, func() {}, nil
	case config.DriverHTTP:
		client, err := httpdir.New(&cfg.Directory, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create directory client: %w", err)
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory driver %q", cfg.Directory.Driver)
	}
}

func newMemoryDirectory(cfg *config.DirectoryConfig) *memory.Directory {
	return memory.New(memory.Generate(cfg.Memory.Records, cfg.Memory.Seed), cfg.ResultCap)
}
