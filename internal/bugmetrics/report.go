package bugmetrics

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/danielolaszy/qadash/pkg/models"
)

const defaultReportConcurrency = 8

// FeatureQuery selects the Features included in a report.
type FeatureQuery struct {
	// AreaPath restricts the report to Features under this area, if set
	AreaPath string

	// States restricts the report to Features in these states, if set
	States []string

	// Top limits the number of Features; 0 means no limit
	Top int
}

// WIQL builds the query that selects the Features.
func (q FeatureQuery) WIQL() string {
	var b strings.Builder
	b.WriteString("SELECT [System.Id], [System.Title], [System.State] FROM WorkItems WHERE [System.TeamProject] = @project AND [System.WorkItemType] = 'Feature'")
	if q.AreaPath != "" {
		fmt.Fprintf(&b, " AND [System.AreaPath] UNDER '%s'", escapeWIQL(q.AreaPath))
	}
	if len(q.States) > 0 {
		quoted := make([]string, len(q.States))
		for i, s := range q.States {
			quoted[i] = "'" + escapeWIQL(s) + "'"
		}
		fmt.Fprintf(&b, " AND [System.State] IN (%s)", strings.Join(quoted, ", "))
	}
	b.WriteString(" ORDER BY [System.Id]")
	return b.String()
}

func escapeWIQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Reporter produces bug metrics for every Feature matching a query.
type Reporter struct {
	fetcher     Fetcher
	aggregator  *Aggregator
	concurrency int
}

// NewReporter creates a Reporter aggregating up to concurrency Features at once.
func NewReporter(fetcher Fetcher, aggregator *Aggregator, concurrency int) *Reporter {
	if concurrency <= 0 {
		concurrency = defaultReportConcurrency
	}
	return &Reporter{fetcher: fetcher, aggregator: aggregator, concurrency: concurrency}
}

// Report runs the Feature query and aggregates each Feature's hierarchy.
// Rows follow the query's order. A Feature that fails to aggregate gets its
// Error set; the rest of the report is unaffected.
func (r *Reporter) Report(ctx context.Context, query FeatureQuery) ([]models.FeatureReport, error) {
	refs, err := r.fetcher.QueryWorkItems(ctx, query.WIQL())
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	if query.Top > 0 && len(refs) > query.Top {
		refs = refs[:query.Top]
	}
	if len(refs) == 0 {
		return []models.FeatureReport{}, nil
	}

	ids := make([]int, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	batch, err := r.fetcher.GetWorkItemsByIDs(ctx, ids, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch features: %w", err)
	}
	byID := make(map[int]models.WorkItem, len(batch.Items))
	for _, item := range batch.Items {
		byID[item.ID] = item
	}

	rows := make([]models.FeatureReport, len(refs))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, ref := range refs {
		feature, ok := byID[ref.ID]
		rows[i] = models.FeatureReport{
			ID:    ref.ID,
			Title: feature.Title,
			State: feature.State,
			URL:   ref.URL,
		}
		if !ok {
			rows[i].Error = "feature could not be fetched"
			rows[i].Metrics.Partial = true
			continue
		}

		g.Go(func() error {
			metrics, err := r.aggregator.Aggregate(ctx, feature.ID, feature.Relations)
			if err != nil {
				r.aggregator.logger.Error("failed to aggregate feature",
					"feature_id", feature.ID,
					"error", err)
				rows[i].Error = err.Error()
				return nil
			}
			rows[i].Metrics = metrics
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
