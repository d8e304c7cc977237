// Package bugmetrics computes bug counts and durations below TFS Features by
// walking the work item hierarchy.
package bugmetrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielolaszy/qadash/internal/logging"
	"github.com/danielolaszy/qadash/internal/tfs"
	"github.com/danielolaszy/qadash/pkg/models"
)

// ErrInvalidRequest is returned for malformed aggregation input.
var ErrInvalidRequest = errors.New("invalid request")

// BugType is the work item type counted by the aggregator; every other type is recursed into.
const BugType = "Bug"

var openStates = map[string]bool{
	"Active":      true,
	"New":         true,
	"In Progress": true,
	"Committed":   true,
	"Planned":     true,
}

var closedStates = map[string]bool{
	"Closed":   true,
	"Resolved": true,
	"Done":     true,
	"Released": true,
	"Deployed": true,
}

const hoursPerDay = 24

// Fetcher is the subset of the TFS client the aggregator needs.
type Fetcher interface {
	QueryWorkItems(ctx context.Context, wiql string) ([]models.WorkItemReference, error)
	GetWorkItemsByIDs(ctx context.Context, ids []int, expandRelations bool) (tfs.BatchResult, error)
}

// Aggregator walks work item hierarchies and tallies bug metrics.
type Aggregator struct {
	fetcher  Fetcher
	now      func() time.Time
	maxDepth int
	logger   *slog.Logger
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithClock sets the source of "now" used to age open bugs.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithMaxDepth limits how many levels below the root are walked; 0 means unlimited.
// Subtrees cut off by the limit mark the result Partial.
func WithMaxDepth(depth int) AggregatorOption {
	return func(a *Aggregator) { a.maxDepth = depth }
}

// WithAggregatorLogger sets the aggregator's logger.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator creates an Aggregator reading work items through fetcher.
func NewAggregator(fetcher Fetcher, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		fetcher: fetcher,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrDefault(a.logger)
	return a
}

// walk holds the state of a single Aggregate call.
type walk struct {
	now     time.Time
	visited map[int]bool
}

// Aggregate tallies the bugs below rootID, whose hierarchy links are relations.
//
// Open bugs are aged against a single "now" read at the start of the call, so
// repeated calls return different open durations. Closed bugs without a closed
// date fall back to their changed date. Bugs in any state outside the open and
// closed sets (such as Removed) are left out entirely. A work item reached
// twice, whether through a cycle or a shared child, is counted once.
func (a *Aggregator) Aggregate(ctx context.Context, rootID int, relations []models.Relation) (models.BugMetrics, error) {
	w := &walk{
		now:     a.now(),
		visited: map[int]bool{rootID: true},
	}
	metrics, err := a.aggregate(ctx, w, rootID, relations, 1)
	if err != nil {
		return models.BugMetrics{}, err
	}

	a.logger.Debug("aggregated bug metrics",
		"root_id", rootID,
		"visited", len(w.visited),
		"open_bugs", metrics.OpenBugCount,
		"closed_bugs", metrics.ClosedBugCount,
		"partial", metrics.Partial)

	return metrics, nil
}

func (a *Aggregator) aggregate(ctx context.Context, w *walk, parentID int, relations []models.Relation, depth int) (models.BugMetrics, error) {
	var metrics models.BugMetrics

	var childIDs []int
	for _, id := range models.ChildIDs(relations) {
		if w.visited[id] {
			a.logger.Debug("skipping already visited work item",
				"parent_id", parentID,
				"work_item_id", id)
			continue
		}
		childIDs = append(childIDs, id)
	}
	if len(childIDs) == 0 {
		return metrics, nil
	}

	// Truncated children stay unvisited so a shallower path can still count them.
	if a.maxDepth > 0 && depth > a.maxDepth {
		a.logger.Warn("hierarchy deeper than max depth, truncating",
			"parent_id", parentID,
			"max_depth", a.maxDepth)
		metrics.Partial = true
		return metrics, nil
	}
	for _, id := range childIDs {
		w.visited[id] = true
	}

	batch, err := a.fetcher.GetWorkItemsByIDs(ctx, childIDs, true)
	if err != nil {
		return models.BugMetrics{}, fmt.Errorf("failed to fetch children of %d: %w", parentID, err)
	}
	if batch.Partial() {
		a.logger.Warn("some children could not be fetched",
			"parent_id", parentID,
			"failed_count", len(batch.FailedIDs))
		metrics.Partial = true
	}

	for _, child := range batch.Items {
		if child.Type != BugType {
			sub, err := a.aggregate(ctx, w, child.ID, child.Relations, depth+1)
			if err != nil {
				return models.BugMetrics{}, err
			}
			metrics.Add(sub)
			continue
		}

		open, closed := openStates[child.State], closedStates[child.State]
		if (open || closed) && child.CreatedDate.IsZero() {
			a.logger.Warn("bug has no created date, counting it with zero duration",
				"parent_id", parentID,
				"work_item_id", child.ID)
			metrics.Partial = true
		}

		switch {
		case open:
			metrics.OpenBugCount++
			metrics.OpenBugDurationSum += openAgeDays(child, w.now)
			metrics.OpenBugDurationCount++
		case closed:
			metrics.ClosedBugCount++
			metrics.ClosedBugDurationSum += closedLifetimeDays(child)
			metrics.ClosedBugDurationCount++
		}
	}

	return metrics, nil
}

// openAgeDays measures created to now; 0 when the created date is unknown.
func openAgeDays(bug models.WorkItem, now time.Time) float64 {
	if bug.CreatedDate.IsZero() {
		return 0
	}
	return days(now.Sub(bug.CreatedDate))
}

// closedLifetimeDays measures created to closed, approximating the closed
// date with the changed date when TFS did not record one. It is 0 when
// either end is unknown.
func closedLifetimeDays(bug models.WorkItem) float64 {
	end := bug.ClosedDate
	if end == nil {
		end = bug.ChangedDate
	}
	if end == nil || bug.CreatedDate.IsZero() {
		return 0
	}
	return days(end.Sub(bug.CreatedDate))
}

func days(d time.Duration) float64 {
	return d.Hours() / hoursPerDay
}

// ComputeBugMetrics validates the input and aggregates the bug metrics of a feature.
func (a *Aggregator) ComputeBugMetrics(ctx context.Context, featureID int, relations []models.Relation) (models.BugMetrics, error) {
	if featureID <= 0 {
		return models.BugMetrics{}, fmt.Errorf("%w: featureId is required", ErrInvalidRequest)
	}
	return a.Aggregate(ctx, featureID, relations)
}
