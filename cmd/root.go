// Package cmd provides the command-line interface for qadash.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/qadash/internal/bugmetrics"
	"github.com/danielolaszy/qadash/internal/config"
	"github.com/danielolaszy/qadash/internal/logging"
	"github.com/danielolaszy/qadash/internal/render"
	"github.com/danielolaszy/qadash/internal/tfs"
)

// appConfig is loaded once per invocation before any subcommand runs.
var appConfig *config.Config

func noClose() error { return nil }

// closeLogFile releases the daily log file opened by setup, if any.
var closeLogFile = noClose

var rootCmd = &cobra.Command{
	Use:   "qadash",
	Short: "qadash reports bug metrics for TFS Features",
	Long: `qadash is a QA dashboard backend for Team Foundation Server / Azure DevOps.
It walks the work item hierarchy below each Feature and reports how many bugs
are open or closed, how long open bugs have been open and how long closed bugs
took to close.

Connection settings are read from the environment (TFS_BASE_URL, TFS_PROJECT,
TFS_PAT or TFS_TOKEN) or from a config file passed with --config.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command; ctx is cancelled on shutdown signals.
// The daily log file is closed whether or not the command succeeds.
func ExecuteContext(ctx context.Context) error {
	defer func() {
		if err := closeLogFile(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
		closeLogFile = noClose
	}()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Assigned here rather than in the literal to avoid an initialization cycle.
	rootCmd.PersistentPreRunE = setup

	// Add persistent flags that will be available to all commands
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringP("output", "o", string(render.FormatTable), "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().Int("max-depth", 0, "Maximum hierarchy depth walked below a Feature (0 means unlimited)")
}

// setup loads configuration and configures logging for every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	if level != "" {
		cfg.Log.Level = level
	}
	out, closeFn, err := logging.Tee(os.Stderr, cfg.Log.Dir, rootCmd.Name())
	if err != nil {
		return err
	}
	closeLogFile = closeFn
	logging.Setup(out, logging.LogLevel(cfg.Log.Level), cfg.Log.Format)

	logging.Debug("loaded configuration",
		"command", cmd.Name(),
		"config", cfg.Redacted())

	appConfig = cfg
	return nil
}

// newClient creates a TFS client from the loaded configuration.
func newClient() (*tfs.Client, error) {
	client, err := tfs.NewClient(appConfig.TFS, tfs.WithLogger(logging.GetLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tfs client: %w", err)
	}
	return client, nil
}

func newAggregator(cmd *cobra.Command, fetcher bugmetrics.Fetcher) (*bugmetrics.Aggregator, error) {
	maxDepth, err := cmd.Flags().GetInt("max-depth")
	if err != nil {
		return nil, err
	}
	return bugmetrics.NewAggregator(fetcher,
		bugmetrics.WithMaxDepth(maxDepth),
		bugmetrics.WithAggregatorLogger(logging.GetLogger())), nil
}

func newRenderer(cmd *cobra.Command) (*render.Renderer, error) {
	name, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	format, err := render.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return render.New(cmd.OutOrStdout(), format), nil
}
