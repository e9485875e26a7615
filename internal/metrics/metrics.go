// Package metrics derives engagement rates from raw variant counters.
package metrics

import (
	"fmt"

	"github.com/liftgate/liftgate/internal/store"
)

// Metrics holds the derived rates for one variant. Both are proportions
// in [0,1] and are 0 whenever their denominator is 0, never NaN.
type Metrics struct {
	CTR            float64
	ConversionRate float64
}

// InvalidCounterError reports counters that cannot have come from valid
// increments: a negative value or clicks/conversions exceeding their
// upstream counter.
type InvalidCounterError struct {
	VariantID string
	Reason    string
}

func (e *InvalidCounterError) Error() string {
	return fmt.Sprintf("invalid counters on variant %s: %s", e.VariantID, e.Reason)
}

// Compute is a pure function of the variant's current counters. Callers
// may invoke it concurrently with counter increments; the store applies
// increments atomically so the snapshot is never torn.
func Compute(v store.Variant) (Metrics, error) {
	if v.Impressions < 0 || v.Clicks < 0 || v.Conversions < 0 {
		return Metrics{}, &InvalidCounterError{VariantID: v.ID, Reason: "negative counter"}
	}
	if v.Clicks > v.Impressions {
		return Metrics{}, &InvalidCounterError{VariantID: v.ID, Reason: "clicks exceed impressions"}
	}
	if v.Conversions > v.Clicks {
		return Metrics{}, &InvalidCounterError{VariantID: v.ID, Reason: "conversions exceed clicks"}
	}

	var m Metrics
	if v.Impressions > 0 {
		m.CTR = float64(v.Clicks) / float64(v.Impressions)
	}
	if v.Clicks > 0 {
		m.ConversionRate = float64(v.Conversions) / float64(v.Clicks)
	}
	return m, nil
}
