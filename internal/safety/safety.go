// Package safety combines per-dimension content risk scores into an
// overall verdict. The classifiers producing the scores live elsewhere;
// this package only aggregates their numeric output.
package safety

import "fmt"

type Dimension string

const (
	DimensionToxicity      Dimension = "toxicity"
	DimensionBias          Dimension = "bias"
	DimensionPII           Dimension = "pii"
	DimensionContentPolicy Dimension = "contentPolicy"
)

// Dimensions lists every required dimension in report order.
var Dimensions = []Dimension{
	DimensionToxicity,
	DimensionBias,
	DimensionPII,
	DimensionContentPolicy,
}

// DimensionScore is one classifier verdict: a risk score in [0,1]
// (higher = riskier) and whether the dimension's own threshold passed.
type DimensionScore struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
}

// Result is the aggregate over all four dimensions. IsSafe is
// authoritative: a single failing dimension makes the content unsafe no
// matter how good OverallScore looks.
type Result struct {
	OverallScore float64
	IsSafe       bool
	Issues       []Issue
}

// InvalidScoreError reports malformed input: a score outside [0,1] or a
// missing dimension.
type InvalidScoreError struct {
	Dimension Dimension
	Score     float64
	Missing   bool
}

func (e *InvalidScoreError) Error() string {
	if e.Missing {
		return fmt.Sprintf("missing score for dimension %q", e.Dimension)
	}
	return fmt.Sprintf("score %v for dimension %q outside [0,1]", e.Score, e.Dimension)
}

var remediations = map[Dimension]struct {
	description string
	suggestion  string
}{
	DimensionToxicity:      {"Content may contain toxic language", "Rephrase using more neutral language"},
	DimensionBias:          {"Content may contain biased language", "Use more inclusive language"},
	DimensionPII:           {"Potential PII detected in content", "Remove or redact personal information"},
	DimensionContentPolicy: {"Content may violate usage policies", "Review content against policy guidelines"},
}

// Aggregate folds the four dimension scores into an overall safety score
// and verdict. The overall score is the equal-weighted mean of 1-score
// per dimension, so higher means safer. One issue is emitted per failing
// dimension, ordered as in Dimensions.
func Aggregate(scores map[Dimension]DimensionScore) (*Result, error) {
	for _, dim := range Dimensions {
		ds, ok := scores[dim]
		if !ok {
			return nil, &InvalidScoreError{Dimension: dim, Missing: true}
		}
		if ds.Score < 0 || ds.Score > 1 {
			return nil, &InvalidScoreError{Dimension: dim, Score: ds.Score}
		}
	}

	result := &Result{IsSafe: true, Issues: []Issue{}}

	var total float64
	for _, dim := range Dimensions {
		ds := scores[dim]
		total += 1 - ds.Score

		if ds.Passed {
			continue
		}

		result.IsSafe = false
		text := remediations[dim]
		result.Issues = append(result.Issues, Issue{
			Type:        string(dim),
			Severity:    severityFor(ds.Score),
			Description: text.description,
			Suggestion:  text.suggestion,
		})
	}

	result.OverallScore = total / float64(len(Dimensions))
	return result, nil
}

// severityFor grades a failing score by how far past its threshold it is.
func severityFor(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityHigh
	case score >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
