// Package gate is the sole authority allowed to promote a winning
// variant to deployed.
package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/liftgate/liftgate/internal/store"
)

// DeniedError carries the specific unmet precondition so callers can
// tell "no winner yet" from "safety check stale".
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "deployment denied: " + e.Reason
}

type Gate struct {
	store  store.Store
	logger *slog.Logger
}

func New(s store.Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: s, logger: logger}
}

// Deploy promotes the experiment's winner if every precondition holds:
// the experiment is finished with a winner, and the winning variant's
// latest safety check is safe and was recorded after the winner was
// determined. The safety check is re-read here, never cached, so an
// edit after a stale safe verdict cannot slip through. Repeat calls for
// the same experiment return the original record.
func (g *Gate) Deploy(ctx context.Context, experimentID string) (*store.Deployment, error) {
	exp, err := g.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	if existing, err := g.store.GetDeployment(ctx, exp.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if exp.WinnerVariantID == nil {
		return nil, &DeniedError{Reason: "no winner determined"}
	}
	if exp.Status != store.StatusStopped && exp.Status != store.StatusCompleted {
		return nil, &DeniedError{Reason: "experiment is still running"}
	}

	check, err := g.store.LatestSafetyCheck(ctx, *exp.WinnerVariantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &DeniedError{Reason: "no safety check recorded for winning variant"}
		}
		return nil, err
	}
	if !check.IsSafe {
		return nil, &DeniedError{Reason: "latest safety check failed"}
	}
	if exp.DecidedAt != nil && check.CreatedAt.Before(*exp.DecidedAt) {
		return nil, &DeniedError{Reason: "safety check is stale: recorded before the winner was determined"}
	}

	dep, err := g.store.CreateDeployment(ctx, exp.ID, *exp.WinnerVariantID)
	if err != nil {
		return nil, err
	}

	g.logger.Info("winner deployed",
		"experiment", exp.ID,
		"variant", dep.VariantID,
		"deployment", dep.ID)

	return dep, nil
}
