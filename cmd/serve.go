package cmd

import (
	"github.com/spf13/cobra"

	"github.com/danielolaszy/qadash/internal/bugmetrics"
	"github.com/danielolaszy/qadash/internal/logging"
	"github.com/danielolaszy/qadash/internal/server"
)

// serveCmd runs the HTTP API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bug metrics HTTP API",
	Long: `Serve the bug metrics HTTP API.

Endpoints:
  POST /api/bug-metrics   {"featureId": 42, "relations": [...]} -> bug metrics
  GET  /api/features      ?area=...&state=...&top=N -> per-Feature report
  GET  /healthz           liveness check

The listen address defaults to LISTEN_ADDR or :8080.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := cmd.Flags().GetString("addr")
		if err != nil {
			return err
		}
		if addr == "" {
			addr = appConfig.Server.ListenAddr
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		aggregator, err := newAggregator(cmd, client)
		if err != nil {
			return err
		}
		reporter := bugmetrics.NewReporter(client, aggregator, appConfig.Server.ReportConcurrency)

		logging.Info("starting bug metrics api",
			"addr", addr,
			"project", client.Project())

		srv := server.New(addr, aggregator, reporter, server.WithLogger(logging.GetLogger()))
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides LISTEN_ADDR)")
}
