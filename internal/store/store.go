package store

import (
	"context"
	"time"
)

// Store defines the persistence operations the engine builds on.
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, name string, typ ExperimentType, variantNames []string) (*Experiment, error)
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	StartExperiment(ctx context.Context, id string, endDate time.Time) error
	StopExperiment(ctx context.Context, id string) error
	CompleteExperiment(ctx context.Context, id string) error
	UpdateConfidence(ctx context.Context, id string, confidence float64) error
	CommitDecision(ctx context.Context, id string, winnerVariantID string, confidence float64) (bool, error)

	// Counter operations
	RecordEvent(ctx context.Context, variantID string, event EventType) error

	// Safety operations
	SaveSafetyCheck(ctx context.Context, check *SafetyCheck) error
	LatestSafetyCheck(ctx context.Context, contentID string) (*SafetyCheck, error)
	ListSafetyChecks(ctx context.Context) ([]*SafetyCheck, error)

	// Deployment operations
	CreateDeployment(ctx context.Context, experimentID, variantID string) (*Deployment, error)
	GetDeployment(ctx context.Context, experimentID string) (*Deployment, error)

	// Lifecycle
	Close() error
}
