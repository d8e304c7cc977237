package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/qadash/internal/bugmetrics"
	"github.com/danielolaszy/qadash/internal/logging"
)

// featuresCmd reports bug metrics for every Feature matching the filters.
var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Report bug metrics for all Features",
	Long: `Query the project's Features and report the bug metrics of each one.

You can filter by area path and by state; --state may be given multiple times.

Example:
  qadash features --area 'Platform\Web' --state Active --state New --top 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := cmd.Flags().GetString("area")
		if err != nil {
			return err
		}
		states, err := cmd.Flags().GetStringArray("state")
		if err != nil {
			return err
		}
		top, err := cmd.Flags().GetInt("top")
		if err != nil {
			return err
		}
		if top < 0 {
			return fmt.Errorf("top must not be negative")
		}

		renderer, err := newRenderer(cmd)
		if err != nil {
			return err
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		aggregator, err := newAggregator(cmd, client)
		if err != nil {
			return err
		}

		logging.Info("building feature report",
			"project", client.Project(),
			"area", area,
			"states", states,
			"top", top)

		reporter := bugmetrics.NewReporter(client, aggregator, appConfig.Server.ReportConcurrency)
		reports, err := reporter.Report(cmd.Context(), bugmetrics.FeatureQuery{
			AreaPath: area,
			States:   states,
			Top:      top,
		})
		if err != nil {
			return err
		}

		failed := 0
		for _, report := range reports {
			if report.Error != "" {
				failed++
			}
		}
		logging.Info("feature report complete",
			"feature_count", len(reports),
			"failed_count", failed)

		return renderer.Features(reports)
	},
}

func init() {
	rootCmd.AddCommand(featuresCmd)
	featuresCmd.Flags().String("area", "", "Only include Features under this area path")
	featuresCmd.Flags().StringArray("state", []string{}, "Only include Features in this state (can be specified multiple times)")
	featuresCmd.Flags().Int("top", 0, "Maximum number of Features (0 means no limit)")
}
