package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liftgate/liftgate/internal/stats"
)

func TestWilsonInterval_ContainsProportion(t *testing.T) {
	lower, upper := stats.WilsonInterval(150, 500, 0.95)
	assert.Less(t, lower, 0.30)
	assert.Greater(t, upper, 0.30)
	assert.GreaterOrEqual(t, lower, 0.0)
	assert.LessOrEqual(t, upper, 1.0)
}

func TestWilsonInterval_ZeroTrials(t *testing.T) {
	lower, upper := stats.WilsonInterval(0, 0, 0.95)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 0.0, upper)
}

func TestWilsonInterval_ExtremeProportions(t *testing.T) {
	// All successes: interval reaches 1 and stays above 0
	lower, upper := stats.WilsonInterval(20, 20, 0.95)
	assert.Greater(t, lower, 0.0)
	assert.InDelta(t, 1.0, upper, 1e-9)

	// No successes: interval reaches 0
	lower, upper = stats.WilsonInterval(0, 20, 0.95)
	assert.InDelta(t, 0.0, lower, 1e-9)
	assert.Greater(t, upper, 0.0)
}

func TestWilsonInterval_NarrowsWithSample(t *testing.T) {
	smallLower, smallUpper := stats.WilsonInterval(30, 100, 0.95)
	largeLower, largeUpper := stats.WilsonInterval(3000, 10000, 0.95)
	assert.Less(t, largeUpper-largeLower, smallUpper-smallLower)
}
