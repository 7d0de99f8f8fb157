package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"igarchive/internal/server"
	"igarchive/pkg/logger"
	"igarchive/pkg/ui"
)

var (
	serveAddr    string
	serveMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archive API for the viewer",
	Long: `Serve the archive over HTTP: the account registry, per-account indexes
with categories and notes, duplicate detection and the media files.

Deleting items through the API (single deletes, duplicate merges and
auto-clean) is refused unless server.allow_delete is set. When
server.api_secret is set, /api requests need it as a bearer token.`,
	Example: `  igarchive serve --addr 127.0.0.1:8787
  IGARCHIVE_API_SECRET=s3cret igarchive serve --metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default 127.0.0.1:8787)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "expose Prometheus metrics on /metrics")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option
	if serveMetrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, server.WithMetrics(registry))
	}

	srv := server.New(cfg.Archive.BaseDirectory, cfg.Server, logger.GetLogger(), opts...)

	ui.PrintInfo("Serving", cfg.Archive.BaseDirectory)
	ui.PrintInfo("Listening on", "http://"+cfg.Server.Addr)
	if !cfg.Server.AllowDelete {
		ui.PrintWarning("Deleting through the API is disabled (server.allow_delete)")
	}
	return srv.ListenAndServe(ctx)
}
