package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/qadash/internal/bugmetrics"
	"github.com/danielolaszy/qadash/pkg/models"
)

// MockMetrics implements MetricsComputer for testing.
type MockMetrics struct {
	ComputeBugMetricsFunc func(int, []models.Relation) (models.BugMetrics, error)

	gotFeatureID int
	gotRelations []models.Relation
}

func (m *MockMetrics) ComputeBugMetrics(_ context.Context, featureID int, relations []models.Relation) (models.BugMetrics, error) {
	m.gotFeatureID = featureID
	m.gotRelations = relations
	if m.ComputeBugMetricsFunc != nil {
		return m.ComputeBugMetricsFunc(featureID, relations)
	}
	return models.BugMetrics{}, nil
}

// MockReporter implements FeatureReporter for testing.
type MockReporter struct {
	ReportFunc func(bugmetrics.FeatureQuery) ([]models.FeatureReport, error)
}

func (m *MockReporter) Report(_ context.Context, query bugmetrics.FeatureQuery) ([]models.FeatureReport, error) {
	return m.ReportFunc(query)
}

func newTestServer(metrics MetricsComputer, reporter FeatureReporter) *Server {
	return New(":0", metrics, reporter, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func post(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/bug-metrics", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func TestBugMetrics_Success(t *testing.T) {
	metrics := &MockMetrics{
		ComputeBugMetricsFunc: func(int, []models.Relation) (models.BugMetrics, error) {
			return models.BugMetrics{ClosedBugCount: 1, ClosedBugDurationSum: 10, ClosedBugDurationCount: 1}, nil
		},
	}
	s := newTestServer(metrics, nil)

	rec, body := post(t, s, `{"featureId": 42, "relations": [{"rel": "System.LinkTypes.Hierarchy-Forward", "url": "https://tfs/_apis/wit/workItems/1001"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.EqualValues(t, 1, body["closedBugCount"])
	assert.EqualValues(t, 10, body["closedBugDurationSum"])
	assert.Equal(t, false, body["partial"])
	assert.Equal(t, 42, metrics.gotFeatureID)
	require.Len(t, metrics.gotRelations, 1)
	assert.Equal(t, models.RelHierarchyForward, metrics.gotRelations[0].Rel)
}

func TestBugMetrics_BadRequest(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		message string
	}{
		{name: "Not JSON", body: `featureId=1`, message: "invalid JSON body"},
		{name: "Missing featureId", body: `{"relations": []}`, message: "featureId is required"},
		{name: "Zero featureId", body: `{"featureId": 0, "relations": []}`, message: "featureId is required"},
		{name: "String featureId", body: `{"featureId": "12", "relations": []}`, message: "invalid JSON body"},
		{name: "Missing relations", body: `{"featureId": 1}`, message: "relations must be an array"},
		{name: "Relations is an object", body: `{"featureId": 1, "relations": {"rel": "x"}}`, message: "relations must be an array"},
		{name: "Relations is null", body: `{"featureId": 1, "relations": null}`, message: "relations must be an array"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &MockMetrics{}
			s := newTestServer(metrics, nil)

			rec, body := post(t, s, tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, body["error"], tc.message)
			assert.Zero(t, metrics.gotFeatureID, "aggregator must not run")
		})
	}
}

func TestBugMetrics_BodyTooLarge(t *testing.T) {
	metrics := &MockMetrics{}
	s := newTestServer(metrics, nil)
	body := `{"featureId": 1, "relations": [], "padding": "` + strings.Repeat("x", maxBodyBytes) + `"}`

	rec, decoded := post(t, s, body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes), decoded["error"])
	assert.Zero(t, metrics.gotFeatureID, "aggregator must not run")
}

func TestBugMetrics_EmptyRelations(t *testing.T) {
	metrics := &MockMetrics{}
	s := newTestServer(metrics, nil)

	rec, body := post(t, s, `{"featureId": 7, "relations": []}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["openBugCount"])
	assert.Equal(t, 7, metrics.gotFeatureID)
}

func TestBugMetrics_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "Upstream failure", err: errors.New("tfs workitemsbatch: unauthorized (status: 401)"), status: http.StatusInternalServerError},
		{name: "Invalid request", err: fmt.Errorf("%w: featureId is required", bugmetrics.ErrInvalidRequest), status: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&MockMetrics{
				ComputeBugMetricsFunc: func(int, []models.Relation) (models.BugMetrics, error) {
					return models.BugMetrics{}, tc.err
				},
			}, nil)

			rec, body := post(t, s, `{"featureId": 1, "relations": []}`)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestBugMetrics_PanicRecovered(t *testing.T) {
	s := newTestServer(&MockMetrics{
		ComputeBugMetricsFunc: func(int, []models.Relation) (models.BugMetrics, error) {
			panic("nil map")
		},
	}, nil)

	rec, body := post(t, s, `{"featureId": 1, "relations": []}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestBugMetrics_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&MockMetrics{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/bug-metrics", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFeatures(t *testing.T) {
	var got bugmetrics.FeatureQuery
	reporter := &MockReporter{
		ReportFunc: func(q bugmetrics.FeatureQuery) ([]models.FeatureReport, error) {
			got = q
			return []models.FeatureReport{{ID: 1, Title: "Login", Metrics: models.BugMetrics{OpenBugCount: 2}}}, nil
		},
	}
	s := newTestServer(&MockMetrics{}, reporter)

	req := httptest.NewRequest(http.MethodGet, `/api/features?area=Platform%5CWeb&state=Active&state=New&top=5`, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bugmetrics.FeatureQuery{AreaPath: `Platform\Web`, States: []string{"Active", "New"}, Top: 5}, got)

	var reports []models.FeatureReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Metrics.OpenBugCount)
}

func TestFeatures_Errors(t *testing.T) {
	reporter := &MockReporter{
		ReportFunc: func(bugmetrics.FeatureQuery) ([]models.FeatureReport, error) {
			return nil, errors.New("failed to query features: boom")
		},
	}
	s := newTestServer(&MockMetrics{}, reporter)

	for path, status := range map[string]int{
		"/api/features?top=-1":  http.StatusBadRequest,
		"/api/features?top=abc": http.StatusBadRequest,
		"/api/features":         http.StatusInternalServerError,
	} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, status, rec.Code)
		})
	}
}

func TestFeatures_NotRegisteredWithoutReporter(t *testing.T) {
	s := newTestServer(&MockMetrics{}, nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/features", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&MockMetrics{}, nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	s := newTestServer(&MockMetrics{}, nil)

	t.Run("Generated when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	})

	t.Run("Propagated when present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newTestServer(&MockMetrics{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
