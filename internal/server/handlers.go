package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/danielolaszy/qadash/internal/bugmetrics"
	"github.com/danielolaszy/qadash/pkg/models"
)

// bugMetricsRequest keeps relations raw so a non-array value can be rejected
// rather than decoded as empty.
type bugMetricsRequest struct {
	FeatureID *int            `json:"featureId"`
	Relations json.RawMessage `json:"relations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleBugMetrics(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	var req bugMetricsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if req.FeatureID == nil || *req.FeatureID <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "featureId is required")
		return
	}
	trimmed := bytes.TrimSpace(req.Relations)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		s.writeError(w, r, http.StatusBadRequest, "relations must be an array")
		return
	}
	var relations []models.Relation
	if err := json.Unmarshal(trimmed, &relations); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid relations: %v", err))
		return
	}

	metrics, err := s.metrics.ComputeBugMetrics(r.Context(), *req.FeatureID, relations)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, bugmetrics.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.logger.Error("failed to compute bug metrics",
			"feature_id", *req.FeatureID,
			"request_id", RequestIDFrom(r.Context()),
			"error", err)
		s.writeError(w, r, status, err.Error())
		return
	}

	if metrics.Partial {
		s.logger.Warn("returning partial bug metrics",
			"feature_id", *req.FeatureID,
			"request_id", RequestIDFrom(r.Context()))
	}
	s.writeJSON(w, r, http.StatusOK, metrics)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := bugmetrics.FeatureQuery{
		AreaPath: q.Get("area"),
		States:   q["state"],
	}
	if top := q.Get("top"); top != "" {
		n, err := strconv.Atoi(top)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		query.Top = n
	}

	reports, err := s.reporter.Report(r.Context(), query)
	if err != nil {
		s.logger.Error("failed to build feature report",
			"request_id", RequestIDFrom(r.Context()),
			"error", err)
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, reports)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response",
			"path", r.URL.Path,
			"error", err)
	}
}
