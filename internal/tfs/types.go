package tfs

import (
	"time"

	"github.com/danielolaszy/qadash/pkg/models"
)

// Field reference names read from work items.
const (
	FieldID           = "System.Id"
	FieldWorkItemType = "System.WorkItemType"
	FieldState        = "System.State"
	FieldTitle        = "System.Title"
	FieldCreatedDate  = "System.CreatedDate"
	FieldChangedDate  = "System.ChangedDate"
	FieldClosedDate   = "Microsoft.VSTS.Common.ClosedDate"
)

// defaultFields are requested when relations are not expanded; the batch API
// rejects a field list combined with $expand.
var defaultFields = []string{
	FieldID,
	FieldWorkItemType,
	FieldState,
	FieldTitle,
	FieldCreatedDate,
	FieldChangedDate,
	FieldClosedDate,
}

type wiqlRequest struct {
	Query string `json:"query"`
}

type wiqlResponse struct {
	QueryType       string                     `json:"queryType"`
	QueryResultType string                     `json:"queryResultType"`
	WorkItems       []models.WorkItemReference `json:"workItems"`
}

type batchRequest struct {
	IDs         []int    `json:"ids"`
	Fields      []string `json:"fields,omitempty"`
	Expand      string   `json:"$expand,omitempty"`
	ErrorPolicy string   `json:"errorPolicy,omitempty"`
}

// batchResponse entries are nil for IDs omitted by errorPolicy=Omit.
type batchResponse struct {
	Count int            `json:"count"`
	Value []*rawWorkItem `json:"value"`
}

type rawWorkItem struct {
	ID        int               `json:"id"`
	Fields    map[string]any    `json:"fields"`
	Relations []models.Relation `json:"relations"`
	URL       string            `json:"url"`
}

// toModel converts the untyped field map into a typed work item.
func (raw rawWorkItem) toModel() models.WorkItem {
	fields := raw.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	wi := models.WorkItem{
		ID:        raw.ID,
		Type:      fieldString(fields, FieldWorkItemType),
		State:     fieldString(fields, FieldState),
		Title:     fieldString(fields, FieldTitle),
		URL:       raw.URL,
		Relations: raw.Relations,
	}
	if created := fieldTime(fields, FieldCreatedDate); created != nil {
		wi.CreatedDate = *created
	}
	wi.ClosedDate = fieldTime(fields, FieldClosedDate)
	wi.ChangedDate = fieldTime(fields, FieldChangedDate)
	return wi
}

func fieldString(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// fieldTime returns nil for missing or unparseable timestamps.
func fieldTime(fields map[string]any, key string) *time.Time {
	s, ok := fields[key].(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
