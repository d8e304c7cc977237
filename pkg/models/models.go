// Package models defines data structures shared across the application.
package models

import (
	"strconv"
	"strings"
	"time"
)

// RelHierarchyForward is the relation type that links a parent work item to its child.
const RelHierarchyForward = "System.LinkTypes.Hierarchy-Forward"

// WorkItemReference is a single row returned by a WIQL query.
type WorkItemReference struct {
	// ID is the numeric work item ID (e.g., 1001)
	ID int `json:"id" yaml:"id"`

	// URL is the REST resource URL of the work item
	URL string `json:"url" yaml:"url"`
}

// Relation is a typed edge from a work item to another work item or artifact.
type Relation struct {
	// Rel is the link type reference name (e.g., "System.LinkTypes.Hierarchy-Forward")
	Rel string `json:"rel" yaml:"rel"`

	// URL points at the target resource; for work item links the last segment is the target ID
	URL string `json:"url" yaml:"url"`

	// Attributes carries link metadata such as "isLocked" or "name"
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// IsHierarchyForward reports whether the relation points from a parent to a child.
func (r Relation) IsHierarchyForward() bool {
	return r.Rel == RelHierarchyForward
}

// ChildID extracts the target work item ID from the trailing path segment of the URL.
func (r Relation) ChildID() (int, bool) {
	u := strings.TrimRight(r.URL, "/")
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	idx := strings.LastIndex(u, "/")
	if idx < 0 || idx == len(u)-1 {
		return 0, false
	}
	id, err := strconv.Atoi(u[idx+1:])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ChildIDs returns the IDs of all hierarchy children in relations, in relation order.
// Relations that are not Hierarchy-Forward or whose URL has no numeric ID are ignored.
func ChildIDs(relations []Relation) []int {
	var ids []int
	for _, rel := range relations {
		if !rel.IsHierarchyForward() {
			continue
		}
		if id, ok := rel.ChildID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// WorkItem is a typed projection of a TFS work item.
type WorkItem struct {
	// ID is the numeric work item ID
	ID int `json:"id" yaml:"id"`

	// Type is the work item type (e.g., "Feature", "User Story", "Bug")
	Type string `json:"type" yaml:"type"`

	// State is the workflow state (e.g., "Active", "Closed", "Removed")
	State string `json:"state" yaml:"state"`

	// Title is the work item's title
	Title string `json:"title" yaml:"title"`

	// CreatedDate is when the work item was created
	CreatedDate time.Time `json:"createdDate" yaml:"createdDate"`

	// ClosedDate is when the work item was closed, if it has been
	ClosedDate *time.Time `json:"closedDate,omitempty" yaml:"closedDate,omitempty"`

	// ChangedDate is when the work item was last changed
	ChangedDate *time.Time `json:"changedDate,omitempty" yaml:"changedDate,omitempty"`

	// URL is the REST resource URL of the work item
	URL string `json:"url" yaml:"url"`

	// Relations holds the work item's links; empty unless relations were expanded
	Relations []Relation `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// BugMetrics aggregates bug counts and durations (in days) below a work item.
type BugMetrics struct {
	OpenBugCount           int     `json:"openBugCount" yaml:"openBugCount"`
	ClosedBugCount         int     `json:"closedBugCount" yaml:"closedBugCount"`
	OpenBugDurationSum     float64 `json:"openBugDurationSum" yaml:"openBugDurationSum"`
	OpenBugDurationCount   int     `json:"openBugDurationCount" yaml:"openBugDurationCount"`
	ClosedBugDurationSum   float64 `json:"closedBugDurationSum" yaml:"closedBugDurationSum"`
	ClosedBugDurationCount int     `json:"closedBugDurationCount" yaml:"closedBugDurationCount"`

	// Partial is set when part of the hierarchy could not be fetched
	Partial bool `json:"partial" yaml:"partial"`
}

// Add folds other into m field by field.
func (m *BugMetrics) Add(other BugMetrics) {
	m.OpenBugCount += other.OpenBugCount
	m.ClosedBugCount += other.ClosedBugCount
	m.OpenBugDurationSum += other.OpenBugDurationSum
	m.OpenBugDurationCount += other.OpenBugDurationCount
	m.ClosedBugDurationSum += other.ClosedBugDurationSum
	m.ClosedBugDurationCount += other.ClosedBugDurationCount
	m.Partial = m.Partial || other.Partial
}

// AvgOpenBugAgeDays returns the mean age of open bugs, or 0 when there are none.
func (m BugMetrics) AvgOpenBugAgeDays() float64 {
	if m.OpenBugDurationCount == 0 {
		return 0
	}
	return m.OpenBugDurationSum / float64(m.OpenBugDurationCount)
}

// AvgClosedBugLifetimeDays returns the mean lifetime of closed bugs, or 0 when there are none.
func (m BugMetrics) AvgClosedBugLifetimeDays() float64 {
	if m.ClosedBugDurationCount == 0 {
		return 0
	}
	return m.ClosedBugDurationSum / float64(m.ClosedBugDurationCount)
}

// FeatureReport is one row of the per-feature bug report.
type FeatureReport struct {
	// ID is the Feature's work item ID
	ID int `json:"id" yaml:"id"`

	// Title is the Feature's title
	Title string `json:"title" yaml:"title"`

	// State is the Feature's workflow state
	State string `json:"state" yaml:"state"`

	// URL is the REST resource URL of the Feature
	URL string `json:"url" yaml:"url"`

	// Metrics are the bug metrics aggregated below the Feature
	Metrics BugMetrics `json:"metrics" yaml:"metrics"`

	// Error is set when the Feature's hierarchy could not be aggregated
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}
