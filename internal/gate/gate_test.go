package gate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftgate/liftgate/internal/gate"
	"github.com/liftgate/liftgate/internal/safety"
	"github.com/liftgate/liftgate/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

// decidedExperiment creates an experiment that was stopped early with
// the second variant as winner. Returns the reloaded experiment.
func decidedExperiment(t *testing.T, s *store.SQLiteStore) *store.Experiment {
	t.Helper()
	ctx := context.Background()

	exp, err := s.CreateExperiment(ctx, "gated experiment", store.TypeAB, []string{"Control", "Variant B"})
	require.NoError(t, err)
	require.NoError(t, s.StartExperiment(ctx, exp.ID, time.Now().AddDate(0, 0, 14)))

	committed, err := s.CommitDecision(ctx, exp.ID, exp.Variants[1].ID, 0.99)
	require.NoError(t, err)
	require.True(t, committed)

	exp, err = s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, exp.DecidedAt)
	return exp
}

func passingChecks() map[safety.Dimension]safety.DimensionScore {
	checks := make(map[safety.Dimension]safety.DimensionScore, len(safety.Dimensions))
	for _, dim := range safety.Dimensions {
		checks[dim] = safety.DimensionScore{Passed: true, Score: 0.05}
	}
	return checks
}

func saveCheck(t *testing.T, s *store.SQLiteStore, contentID string, isSafe bool, at time.Time) {
	t.Helper()

	checks := passingChecks()
	if !isSafe {
		checks[safety.DimensionPII] = safety.DimensionScore{Passed: false, Score: 0.9}
	}
	result, err := safety.Aggregate(checks)
	require.NoError(t, err)

	check := &store.SafetyCheck{
		ContentID:    contentID,
		OverallScore: result.OverallScore,
		IsSafe:       result.IsSafe,
		Checks:       checks,
		Issues:       result.Issues,
		CreatedAt:    at,
	}
	require.NoError(t, s.SaveSafetyCheck(context.Background(), check))
}

func TestDeploy_Succeeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := decidedExperiment(t, s)
	winnerID := *exp.WinnerVariantID

	saveCheck(t, s, winnerID, true, exp.DecidedAt.Add(time.Minute))

	dep, err := gate.New(s, nil).Deploy(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, dep.ExperimentID)
	assert.Equal(t, winnerID, dep.VariantID)
	assert.NotEmpty(t, dep.ID)
}

func TestDeploy_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := decidedExperiment(t, s)
	saveCheck(t, s, *exp.WinnerVariantID, true, exp.DecidedAt.Add(time.Minute))

	g := gate.New(s, nil)
	first, err := g.Deploy(ctx, exp.ID)
	require.NoError(t, err)
	second, err := g.Deploy(ctx, exp.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestDeploy_DeniedWithoutWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A draft experiment has no winner regardless of any safety checks
	// recorded against its variants.
	exp, err := s.CreateExperiment(ctx, "draft experiment", store.TypeAB, []string{"Control", "Variant B"})
	require.NoError(t, err)
	saveCheck(t, s, exp.Variants[0].ID, true, time.Now())
	saveCheck(t, s, exp.Variants[1].ID, true, time.Now())

	_, err = gate.New(s, nil).Deploy(ctx, exp.ID)
	var denied *gate.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "no winner determined", denied.Reason)
}

func TestDeploy_DeniedWithoutSafetyCheck(t *testing.T) {
	s := newTestStore(t)
	exp := decidedExperiment(t, s)

	_, err := gate.New(s, nil).Deploy(context.Background(), exp.ID)
	var denied *gate.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "no safety check recorded for winning variant", denied.Reason)
}

func TestDeploy_DeniedOnFailedCheck(t *testing.T) {
	s := newTestStore(t)
	exp := decidedExperiment(t, s)
	saveCheck(t, s, *exp.WinnerVariantID, false, exp.DecidedAt.Add(time.Minute))

	_, err := gate.New(s, nil).Deploy(context.Background(), exp.ID)
	var denied *gate.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "latest safety check failed", denied.Reason)
}

func TestDeploy_DeniedOnStaleCheck(t *testing.T) {
	s := newTestStore(t)
	exp := decidedExperiment(t, s)

	// Safe verdict, but recorded before the winner was determined. The
	// content could have been edited since, so it does not count.
	saveCheck(t, s, *exp.WinnerVariantID, true, exp.DecidedAt.Add(-time.Hour))

	_, err := gate.New(s, nil).Deploy(context.Background(), exp.ID)
	var denied *gate.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Contains(t, denied.Reason, "safety check is stale")
}

func TestDeploy_LatestCheckWins(t *testing.T) {
	s := newTestStore(t)
	exp := decidedExperiment(t, s)
	winnerID := *exp.WinnerVariantID

	// An older safe verdict must not mask a newer failing one.
	saveCheck(t, s, winnerID, true, exp.DecidedAt.Add(time.Minute))
	saveCheck(t, s, winnerID, false, exp.DecidedAt.Add(2*time.Minute))

	_, err := gate.New(s, nil).Deploy(context.Background(), exp.ID)
	var denied *gate.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "latest safety check failed", denied.Reason)
}

func TestDeploy_UnknownExperiment(t *testing.T) {
	s := newTestStore(t)

	_, err := gate.New(s, nil).Deploy(context.Background(), "exp_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
