package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/liftgate/liftgate/internal/safety"
	"github.com/liftgate/liftgate/internal/store"
)

type safetyCheckRequest struct {
	ContentID string                                     `json:"contentId"`
	Checks    map[safety.Dimension]safety.DimensionScore `json:"checks"`
}

type safetyCheckSnapshot struct {
	ID           string                                     `json:"id"`
	ContentID    string                                     `json:"contentId"`
	Timestamp    string                                     `json:"timestamp"`
	OverallScore float64                                    `json:"overallScore"`
	IsSafe       bool                                       `json:"isSafe"`
	Checks       map[safety.Dimension]safety.DimensionScore `json:"checks"`
	Issues       []safety.Issue                             `json:"issues"`
}

func snapshotSafetyCheck(check *store.SafetyCheck) safetyCheckSnapshot {
	issues := check.Issues
	if issues == nil {
		issues = []safety.Issue{}
	}
	return safetyCheckSnapshot{
		ID:           check.ID,
		ContentID:    check.ContentID,
		Timestamp:    check.CreatedAt.UTC().Format(time.RFC3339),
		OverallScore: check.OverallScore,
		IsSafe:       check.IsSafe,
		Checks:       check.Checks,
		Issues:       issues,
	}
}

// handleSafety serves POST /safety (submit dimension scores) and
// GET /safety (list all checks, newest first).
func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		checks, err := s.store.ListSafetyChecks(r.Context())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		snapshots := make([]safetyCheckSnapshot, 0, len(checks))
		for _, check := range checks {
			snapshots = append(snapshots, snapshotSafetyCheck(check))
		}
		s.writeJSON(w, http.StatusOK, snapshots)

	case http.MethodPost:
		if !s.requireAuth(w, r) {
			return
		}

		var req safetyCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.ContentID == "" {
			s.writeError(w, http.StatusBadRequest, "contentId is required")
			return
		}

		result, err := safety.Aggregate(req.Checks)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}

		check := &store.SafetyCheck{
			ContentID:    req.ContentID,
			OverallScore: result.OverallScore,
			IsSafe:       result.IsSafe,
			Checks:       req.Checks,
			Issues:       result.Issues,
		}
		if err := s.store.SaveSafetyCheck(r.Context(), check); err != nil {
			s.writeDomainError(w, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, snapshotSafetyCheck(check))

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSafetyByContent serves GET /safety/{contentId}: the latest check
// for one piece of content.
func (s *Server) handleSafetyByContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentID := strings.TrimPrefix(r.URL.Path, "/safety/")
	if contentID == "" || strings.Contains(contentID, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	check, err := s.store.LatestSafetyCheck(r.Context(), contentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshotSafetyCheck(check))
}
