package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dbsmedya/prefixcrawl/internal/directory/httpdir"
)

var (
	mockListen       string
	mockRecords      int
	mockSeed         uint64
	mockPendingPolls int
)

var mockDirectoryCmd = &cobra.Command{
	Use:   "mock-directory",
	Short: "Serve a synthetic directory over HTTP",
	Long: `Mock-directory generates a deterministic synthetic directory and serves it
over the JSON API the http directory driver speaks. Point a crawl at it with
directory.driver: http and directory.base_url.

Endpoints:
  /api/search?name=&category=   capped candidate list with the true total
  /api/licensees/{id}           detail fields (202 while pending)
  /healthz                      liveness probe

Example:
  prefixcrawl mock-directory --listen 127.0.0.1:8080 --records 20000`,
	RunE: runMockDirectory,
}

func init() {
	mockDirectoryCmd.Flags().StringVar(&mockListen, "listen", "127.0.0.1:8080",
		"Address to listen on")
	mockDirectoryCmd.Flags().IntVar(&mockRecords, "records", 0,
		"Override the number of generated records")
	mockDirectoryCmd.Flags().Uint64Var(&mockSeed, "seed", 0,
		"Override the generator seed")
	mockDirectoryCmd.Flags().IntVar(&mockPendingPolls, "pending-polls", 0,
		"Answer 202 this many times before each detail")
	rootCmd.AddCommand(mockDirectoryCmd)
}

func runMockDirectory(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if mockRecords > 0 {
		cfg.Directory.Memory.Records = mockRecords
	}
	if mockSeed > 0 {
		cfg.Directory.Memory.Seed = mockSeed
	}
	dir := newMemoryDirectory(&cfg.Directory)

	ctx, cancel := SetupSignalHandler(context.Background(), func(sig os.Signal) {
		log.Warnw("Received shutdown signal", "signal", sig.String())
	})
	defer cancel()

	ln, err := net.Listen("tcp", mockListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", mockListen, err)
	}
	log.Infow("Mock directory listening",
		"addr", ln.Addr().String(),
		"records", len(dir.Records()),
		"result_cap", dir.Cap())

	handler := httpdir.NewHandler(dir,
		httpdir.WithPendingPolls(mockPendingPolls),
		httpdir.WithLogger(log))
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mock directory failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
