package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/liftgate/liftgate/internal/gate"
	"github.com/liftgate/liftgate/internal/metrics"
	"github.com/liftgate/liftgate/internal/safety"
	"github.com/liftgate/liftgate/internal/stats"
	"github.com/liftgate/liftgate/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps engine errors onto HTTP statuses: malformed
// input is the caller's fault (400), state conflicts and gate denials
// are 409, unknown entities 404.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var stateErr *stats.InvalidStateError
	var deniedErr *gate.DeniedError
	var counterErr *metrics.InvalidCounterError
	var scoreErr *safety.InvalidScoreError

	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &stateErr):
		s.writeError(w, http.StatusConflict, stateErr.Error())
	case errors.As(err, &deniedErr):
		gateDenialsTotal.Inc()
		s.writeError(w, http.StatusConflict, deniedErr.Error())
	case errors.As(err, &counterErr), errors.As(err, &scoreErr),
		errors.Is(err, store.ErrCounterOrder), errors.Is(err, store.ErrConflict):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Experiments   int    `json:"experiments_count"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Experiments:   len(experiments),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

type variantSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	Conversions int64  `json:"conversions"`
}

type experimentSnapshot struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            string            `json:"type"`
	Status          string            `json:"status"`
	StartDate       *string           `json:"startDate"`
	EndDate         *string           `json:"endDate"`
	Variants        []variantSnapshot `json:"variants"`
	WinnerVariantID *string           `json:"winnerVariantId"`
	Confidence      *float64          `json:"confidence"`
}

func snapshotExperiment(exp *store.Experiment) experimentSnapshot {
	snap := experimentSnapshot{
		ID:              exp.ID,
		Name:            exp.Name,
		Type:            string(exp.Type),
		Status:          string(exp.Status),
		StartDate:       formatTime(exp.StartDate),
		EndDate:         formatTime(exp.EndDate),
		Variants:        make([]variantSnapshot, len(exp.Variants)),
		WinnerVariantID: exp.WinnerVariantID,
		Confidence:      exp.Confidence,
	}
	for i, v := range exp.Variants {
		snap.Variants[i] = variantSnapshot{
			ID:          v.ID,
			Name:        v.Name,
			Impressions: v.Impressions,
			Clicks:      v.Clicks,
			Conversions: v.Conversions,
		}
	}
	return snap
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

type createExperimentRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Variants []struct {
		Name string `json:"name"`
	} `json:"variants"`
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		experiments, err := s.store.ListExperiments(r.Context())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		snapshots := make([]experimentSnapshot, 0, len(experiments))
		for _, exp := range experiments {
			snapshots = append(snapshots, snapshotExperiment(exp))
		}
		s.writeJSON(w, http.StatusOK, snapshots)

	case http.MethodPost:
		if !s.requireAuth(w, r) {
			return
		}

		var req createExperimentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Name == "" {
			s.writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		typ, ok := parseExperimentType(req.Type)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "type must be \"ab\" or \"abn\"")
			return
		}

		names := make([]string, len(req.Variants))
		for i, v := range req.Variants {
			if v.Name == "" {
				s.writeError(w, http.StatusBadRequest, "every variant needs a name")
				return
			}
			names[i] = v.Name
		}
		if len(names) < 2 {
			s.writeError(w, http.StatusBadRequest, "need at least 2 variants")
			return
		}

		exp, err := s.store.CreateExperiment(r.Context(), req.Name, typ, names)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, snapshotExperiment(exp))

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// parseExperimentType accepts the dashboard's "A/B"/"A/B/n" spellings as
// well as the canonical ab/abn.
func parseExperimentType(raw string) (store.ExperimentType, bool) {
	normalized := strings.ToLower(strings.ReplaceAll(raw, "/", ""))
	switch normalized {
	case "ab":
		return store.TypeAB, true
	case "abn":
		return store.TypeABn, true
	default:
		return "", false
	}
}

type startExperimentRequest struct {
	DurationDays int `json:"durationDays"`
}

// handleExperimentByID routes /experiments/{id} and its sub-actions.
func (s *Server) handleExperimentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/experiments/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		exp, err := s.store.GetExperiment(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, snapshotExperiment(exp))

	case "start":
		if !s.requirePost(w, r) {
			return
		}
		req := startExperimentRequest{DurationDays: 14}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
		}
		if req.DurationDays <= 0 {
			s.writeError(w, http.StatusBadRequest, "durationDays must be positive")
			return
		}
		endDate := time.Now().AddDate(0, 0, req.DurationDays)
		if err := s.store.StartExperiment(r.Context(), id, endDate); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.writeError(w, http.StatusConflict, "experiment is not a draft")
				return
			}
			s.writeDomainError(w, err)
			return
		}
		s.sendExperiment(w, r, id)

	case "stop":
		if !s.requirePost(w, r) {
			return
		}
		if err := s.store.StopExperiment(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.writeError(w, http.StatusConflict, "experiment is not running")
				return
			}
			s.writeDomainError(w, err)
			return
		}
		s.sendExperiment(w, r, id)

	case "deploy":
		if !s.requirePost(w, r) {
			return
		}
		dep, err := s.gate.Deploy(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		deploymentsTotal.Inc()
		s.writeJSON(w, http.StatusOK, deploymentSnapshot{
			ID:           dep.ID,
			ExperimentID: dep.ExperimentID,
			VariantID:    dep.VariantID,
			CreatedAt:    dep.CreatedAt.UTC().Format(time.RFC3339),
		})

	case "results":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		decision, err := s.engine.Evaluate(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		evaluationsTotal.Inc()
		s.writeJSON(w, http.StatusOK, snapshotDecision(decision))

	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return s.requireAuth(w, r)
}

func (s *Server) sendExperiment(w http.ResponseWriter, r *http.Request, id string) {
	exp, err := s.store.GetExperiment(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotExperiment(exp))
}

type deploymentSnapshot struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experimentId"`
	VariantID    string `json:"variantId"`
	CreatedAt    string `json:"createdAt"`
}

type decisionVariant struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Impressions    int64   `json:"impressions"`
	Clicks         int64   `json:"clicks"`
	Conversions    int64   `json:"conversions"`
	CTR            float64 `json:"ctr"`
	ConversionRate float64 `json:"conversionRate"`
	CILower        float64 `json:"ciLower"`
	CIUpper        float64 `json:"ciUpper"`
}

type decisionSnapshot struct {
	ExperimentID    string            `json:"experimentId"`
	Confidence      *float64          `json:"confidence"`
	WinnerVariantID *string           `json:"winnerVariantId"`
	Variants        []decisionVariant `json:"variants"`
	EvaluatedAt     string            `json:"evaluatedAt"`
}

func snapshotDecision(d *stats.Decision) decisionSnapshot {
	snap := decisionSnapshot{
		ExperimentID:    d.ExperimentID,
		Confidence:      d.Confidence,
		WinnerVariantID: d.WinnerVariantID,
		Variants:        make([]decisionVariant, len(d.Variants)),
		EvaluatedAt:     d.EvaluatedAt.UTC().Format(time.RFC3339),
	}
	for i, v := range d.Variants {
		snap.Variants[i] = decisionVariant{
			ID:             v.ID,
			Name:           v.Name,
			Impressions:    v.Impressions,
			Clicks:         v.Clicks,
			Conversions:    v.Conversions,
			CTR:            v.CTR,
			ConversionRate: v.ConversionRate,
			CILower:        v.CILower,
			CIUpper:        v.CIUpper,
		}
	}
	return snap
}

type eventRequest struct {
	VariantID string `json:"variantId"`
	Type      string `json:"type"`
}

// handleEvents is the ingestion beacon: one counter increment per call.
// CORS is open because impression/click beacons arrive straight from
// rendered pages.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.VariantID == "" {
		s.writeError(w, http.StatusBadRequest, "variantId is required")
		return
	}

	event := store.EventType(req.Type)
	switch event {
	case store.EventImpression, store.EventClick, store.EventConversion:
	default:
		s.writeError(w, http.StatusBadRequest, "invalid event type")
		return
	}

	if err := s.store.RecordEvent(r.Context(), req.VariantID, event); err != nil {
		s.writeDomainError(w, err)
		return
	}

	eventsTotal.WithLabelValues(req.Type).Inc()
	w.WriteHeader(http.StatusNoContent)
}
