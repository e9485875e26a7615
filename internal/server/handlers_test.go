package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftgate/liftgate/internal/gate"
	"github.com/liftgate/liftgate/internal/server"
	"github.com/liftgate/liftgate/internal/stats"
	"github.com/liftgate/liftgate/internal/store"
)

func newTestServer(t *testing.T, token string) (http.Handler, *store.SQLiteStore) {
	t.Helper()

	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	engine := stats.NewEngine(s, stats.Config{MinimumSampleSize: 200, SignificanceThreshold: 0.95}, nil)
	srv := server.New(s, engine, gate.New(s, nil), 0, token, nil)
	return srv.Handler(), s
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

type experimentResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`

	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`

	Variants []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Impressions int64  `json:"impressions"`
		Clicks      int64  `json:"clicks"`
		Conversions int64  `json:"conversions"`
	} `json:"variants"`

	WinnerVariantID *string  `json:"winnerVariantId"`
	Confidence      *float64 `json:"confidence"`
}

func createExperiment(t *testing.T, handler http.Handler, typ string, names ...string) experimentResponse {
	t.Helper()

	variants := make([]map[string]string, len(names))
	for i, n := range names {
		variants[i] = map[string]string{"name": n}
	}
	rec := doJSON(t, handler, http.MethodPost, "/experiments", map[string]any{
		"name":     "Subject Line Test",
		"type":     typ,
		"variants": variants,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var exp experimentResponse
	decodeBody(t, rec, &exp)
	return exp
}

func TestCreateExperimentEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, "")

	// the dashboard spells the type "A/B"
	exp := createExperiment(t, handler, "A/B", "Control", "Variant B")
	assert.Regexp(t, `^exp_[0-9a-f]{8}$`, exp.ID)
	assert.Equal(t, "ab", exp.Type)
	assert.Equal(t, "draft", exp.Status)
	assert.Nil(t, exp.StartDate)
	assert.Nil(t, exp.WinnerVariantID)
	require.Len(t, exp.Variants, 2)
	assert.Equal(t, "Control", exp.Variants[0].Name)

	rec := doJSON(t, handler, http.MethodGet, "/experiments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []experimentResponse
	decodeBody(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, exp.ID, list[0].ID)
}

func TestCreateExperimentEndpoint_Validation(t *testing.T) {
	handler, _ := newTestServer(t, "")

	rec := doJSON(t, handler, http.MethodPost, "/experiments", map[string]any{
		"type":     "ab",
		"variants": []map[string]string{{"name": "A"}, {"name": "B"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/experiments", map[string]any{
		"name":     "bad type",
		"type":     "multivariate",
		"variants": []map[string]string{{"name": "A"}, {"name": "B"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/experiments", map[string]any{
		"name":     "too few",
		"type":     "ab",
		"variants": []map[string]string{{"name": "A"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExperimentLifecycleEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, "")
	exp := createExperiment(t, handler, "ab", "Control", "Variant B")

	rec := doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/start", map[string]int{"durationDays": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var started experimentResponse
	decodeBody(t, rec, &started)
	assert.Equal(t, "running", started.Status)
	require.NotNil(t, started.EndDate)
	endDate, err := time.Parse(time.RFC3339, *started.EndDate)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 7), endDate, time.Minute)

	// starting twice is a state conflict
	rec = doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped experimentResponse
	decodeBody(t, rec, &stopped)
	assert.Equal(t, "stopped", stopped.Status)

	rec = doJSON(t, handler, http.MethodGet, "/experiments/exp_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, "")
	exp := createExperiment(t, handler, "ab", "Control", "Variant B")
	variantID := exp.Variants[0].ID

	rec := doJSON(t, handler, http.MethodPost, "/events", map[string]string{"variantId": variantID, "type": "impression"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, handler, http.MethodPost, "/events", map[string]string{"variantId": variantID, "type": "click"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// a conversion without a click to attach to is rejected
	rec = doJSON(t, handler, http.MethodPost, "/events", map[string]string{"variantId": exp.Variants[1].ID, "type": "conversion"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/events", map[string]string{"variantId": variantID, "type": "purchase"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/events", map[string]string{"variantId": "var_missing", "type": "impression"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// beacons preflight from the page
	rec = doJSON(t, handler, http.MethodOptions, "/events", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doJSON(t, handler, http.MethodGet, "/experiments/"+exp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got experimentResponse
	decodeBody(t, rec, &got)
	assert.Equal(t, int64(1), got.Variants[0].Impressions)
	assert.Equal(t, int64(1), got.Variants[0].Clicks)
}

func TestResultsEndpoint(t *testing.T) {
	handler, s := newTestServer(t, "")
	exp := createExperiment(t, handler, "ab", "Control", "Variant B")

	// results on a draft are a state conflict
	rec := doJSON(t, handler, http.MethodGet, "/experiments/"+exp.ID+"/results", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for i, counters := range [][3]int64{{10000, 1000, 100}, {10000, 1000, 200}} {
		_, err := s.DB().Exec(`UPDATE variants SET impressions = ?, clicks = ?, conversions = ? WHERE id = ?`,
			counters[0], counters[1], counters[2], exp.Variants[i].ID)
		require.NoError(t, err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/experiments/"+exp.ID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision struct {
		ExperimentID    string   `json:"experimentId"`
		Confidence      *float64 `json:"confidence"`
		WinnerVariantID *string  `json:"winnerVariantId"`
		Variants        []struct {
			ID             string  `json:"id"`
			CTR            float64 `json:"ctr"`
			ConversionRate float64 `json:"conversionRate"`
			CILower        float64 `json:"ciLower"`
			CIUpper        float64 `json:"ciUpper"`
		} `json:"variants"`
	}
	decodeBody(t, rec, &decision)

	assert.Equal(t, exp.ID, decision.ExperimentID)
	require.NotNil(t, decision.Confidence)
	assert.Greater(t, *decision.Confidence, 0.95)
	require.NotNil(t, decision.WinnerVariantID)
	assert.Equal(t, exp.Variants[1].ID, *decision.WinnerVariantID)

	require.Len(t, decision.Variants, 2)
	assert.InDelta(t, 0.1, decision.Variants[0].CTR, 1e-9)
	assert.InDelta(t, 0.2, decision.Variants[1].ConversionRate, 1e-9)
	assert.Less(t, decision.Variants[1].CILower, decision.Variants[1].ConversionRate)
	assert.Greater(t, decision.Variants[1].CIUpper, decision.Variants[1].ConversionRate)
}

func submitSafetyCheck(t *testing.T, handler http.Handler, contentID string, piiScore float64, piiPassed bool) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, handler, http.MethodPost, "/safety", map[string]any{
		"contentId": contentID,
		"checks": map[string]map[string]any{
			"toxicity":      {"passed": true, "score": 0.05},
			"bias":          {"passed": true, "score": 0.08},
			"pii":           {"passed": piiPassed, "score": piiScore},
			"contentPolicy": {"passed": true, "score": 0.04},
		},
	})
}

func TestSafetyEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, "")

	rec := submitSafetyCheck(t, handler, "var_11112222", 0.92, false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var check struct {
		ID           string  `json:"id"`
		ContentID    string  `json:"contentId"`
		OverallScore float64 `json:"overallScore"`
		IsSafe       bool    `json:"isSafe"`
		Issues       []struct {
			Type     string `json:"type"`
			Severity string `json:"severity"`
		} `json:"issues"`
	}
	decodeBody(t, rec, &check)
	assert.InDelta(t, 0.7275, check.OverallScore, 1e-9)
	assert.False(t, check.IsSafe)
	require.Len(t, check.Issues, 1)
	assert.Equal(t, "pii", check.Issues[0].Type)
	assert.Equal(t, "high", check.Issues[0].Severity)

	rec = doJSON(t, handler, http.MethodGet, "/safety/var_11112222", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &check)
	assert.False(t, check.IsSafe)

	rec = doJSON(t, handler, http.MethodGet, "/safety/var_unknown1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// missing dimension is the caller's fault
	rec = doJSON(t, handler, http.MethodPost, "/safety", map[string]any{
		"contentId": "var_33334444",
		"checks": map[string]map[string]any{
			"toxicity": {"passed": true, "score": 0.05},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployEndpoint(t *testing.T) {
	handler, s := newTestServer(t, "")
	exp := createExperiment(t, handler, "ab", "Control", "Variant B")

	rec := doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/deploy", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	var denial struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &denial)
	assert.Contains(t, denial.Error, "no winner determined")

	rec = doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	winnerID := exp.Variants[1].ID
	committed, err := s.CommitDecision(context.Background(), exp.ID, winnerID, 0.99)
	require.NoError(t, err)
	require.True(t, committed)

	rec = doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/deploy", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	decodeBody(t, rec, &denial)
	assert.Contains(t, denial.Error, "no safety check recorded")

	rec = submitSafetyCheck(t, handler, winnerID, 0.02, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/deploy", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dep struct {
		ID           string `json:"id"`
		ExperimentID string `json:"experimentId"`
		VariantID    string `json:"variantId"`
	}
	decodeBody(t, rec, &dep)
	assert.Regexp(t, `^dep_[0-9a-f]{8}$`, dep.ID)
	assert.Equal(t, exp.ID, dep.ExperimentID)
	assert.Equal(t, winnerID, dep.VariantID)

	// repeat deploys return the original record
	rec = doJSON(t, handler, http.MethodPost, "/experiments/"+exp.ID+"/deploy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &again)
	assert.Equal(t, dep.ID, again.ID)
}

func TestAuthToken(t *testing.T) {
	handler, _ := newTestServer(t, "secret-token")

	body := map[string]any{
		"name":     "guarded",
		"type":     "ab",
		"variants": []map[string]string{{"name": "A"}, {"name": "B"}},
	}

	rec := doJSON(t, handler, http.MethodPost, "/experiments", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/experiments", body, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/experiments", body, "Authorization", "Bearer secret-token")
	assert.Equal(t, http.StatusCreated, rec.Code)

	// reads stay open
	rec = doJSON(t, handler, http.MethodGet, "/experiments", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, "")

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status      string `json:"status"`
		Experiments int    `json:"experiments_count"`
	}
	decodeBody(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Experiments)
}
