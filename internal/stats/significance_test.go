package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liftgate/liftgate/internal/stats"
)

func TestConfidence_ClearWinner(t *testing.T) {
	// A: 10% conversion (100/1000), B: 5% (50/1000)
	confidence := stats.Confidence(100, 1000, 50, 1000)
	assert.Greater(t, confidence, 0.95, "expected high confidence for a clear winner")
}

func TestConfidence_EqualRates(t *testing.T) {
	confidence := stats.Confidence(50, 1000, 50, 1000)
	assert.InDelta(t, 0.5, confidence, 1e-6, "equal rates decide nothing")
}

func TestConfidence_SmallSample(t *testing.T) {
	// Small samples should not show significance even with different rates
	confidence := stats.Confidence(5, 20, 2, 20)
	assert.Less(t, confidence, 0.95)
}

func TestConfidence_ZeroTrials(t *testing.T) {
	assert.Equal(t, 0.5, stats.Confidence(0, 0, 0, 0))
	assert.Equal(t, 0.5, stats.Confidence(10, 100, 0, 0))
}

func TestConfidence_Orientation(t *testing.T) {
	ahead := stats.Confidence(200, 1000, 100, 1000)
	behind := stats.Confidence(100, 1000, 200, 1000)
	assert.Greater(t, ahead, 0.5)
	assert.Less(t, behind, 0.5)
	assert.InDelta(t, 1.0, ahead+behind, 1e-9)
}
