package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/prefixcrawl/internal/broadcast"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live viewer over the result file",
	Long: `Serve starts the viewer web server and the broadcaster without crawling.
Every browser connection receives the full result list once, then only the
records appended since the previous tick.

Endpoints:
  /              viewer page
  /ws            WebSocket event stream (initialize_data, update_data)
  /api/records   current result list as JSON
  /healthz       liveness probe

Example:
  prefixcrawl serve --config prefixcrawl.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	_, res, err := openStores(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := SetupSignalHandler(context.Background(), func(sig os.Signal) {
		log.Warnw("Received shutdown signal", "signal", sig.String())
	})
	defer cancel()

	server := broadcast.NewServer(&cfg.Viewer, res, log)
	ln, err := server.Listen()
	if err != nil {
		return err
	}
	return server.Run(ctx, ln)
}
