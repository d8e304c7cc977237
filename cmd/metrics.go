package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/qadash/internal/bugmetrics"
	"github.com/danielolaszy/qadash/internal/logging"
	"github.com/danielolaszy/qadash/pkg/models"
)

// metricsCmd computes the bug metrics of a single Feature.
var metricsCmd = &cobra.Command{
	Use:   "metrics <featureId>",
	Short: "Show bug metrics for a Feature",
	Long: `Fetch a Feature with its relations and walk its hierarchy, counting the
open and closed bugs below it.

Example:
  qadash metrics 4242 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		featureID, err := parseFeatureID(args[0])
		if err != nil {
			return err
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

		metrics, err := featureMetrics(cmd.Context(), client, aggregator, featureID)
		if err != nil {
			return err
		}
		if metrics.Partial {
			logging.Warn("some work items could not be fetched, metrics are partial",
				"feature_id", featureID)
		}

		return renderer.Metrics(featureID, metrics)
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

// workItemGetter fetches a single work item with its relations.
type workItemGetter interface {
	GetWorkItem(ctx context.Context, id int) (models.WorkItem, error)
}

func featureMetrics(ctx context.Context, getter workItemGetter, aggregator *bugmetrics.Aggregator, featureID int) (models.BugMetrics, error) {
	feature, err := getter.GetWorkItem(ctx, featureID)
	if err != nil {
		return models.BugMetrics{}, fmt.Errorf("failed to fetch feature %d: %w", featureID, err)
	}

	logging.Debug("fetched feature",
		"feature_id", feature.ID,
		"title", feature.Title,
		"relation_count", len(feature.Relations))

	return aggregator.ComputeBugMetrics(ctx, feature.ID, feature.Relations)
}

func parseFeatureID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid feature ID %q: must be a positive integer", arg)
	}
	return id, nil
}
