package store

import (
	"time"

	"github.com/liftgate/liftgate/internal/safety"
)

type ExperimentType string

const (
	TypeAB  ExperimentType = "ab"  // exactly two variants
	TypeABn ExperimentType = "abn" // two or more variants
)

type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusRunning   ExperimentStatus = "running"
	StatusStopped   ExperimentStatus = "stopped"
	StatusCompleted ExperimentStatus = "completed"
)

type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
)

type Experiment struct {
	ID              string
	Name            string
	Type            ExperimentType
	Status          ExperimentStatus
	Variants        []Variant // ordered by position, control first
	WinnerVariantID *string
	Confidence      *float64
	StartDate       *time.Time
	EndDate         *time.Time
	DecidedAt       *time.Time // when the winner was committed
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Variant carries the raw engagement counters for one treatment.
// Counters only move via atomic increments and always satisfy
// impressions >= clicks >= conversions.
type Variant struct {
	ID           string
	ExperimentID string
	Name         string
	Position     int // 0 = control
	Impressions  int64
	Clicks       int64
	Conversions  int64
}

type SafetyCheck struct {
	ID           string
	ContentID    string
	OverallScore float64
	IsSafe       bool
	Checks       map[safety.Dimension]safety.DimensionScore
	Issues       []safety.Issue
	CreatedAt    time.Time
}

// Deployment is one entry in the append-only promotion log.
type Deployment struct {
	ID           string
	ExperimentID string
	VariantID    string
	CreatedAt    time.Time
}
