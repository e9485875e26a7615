package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liftgate/liftgate/internal/metrics"
	"github.com/liftgate/liftgate/internal/store"
)

// Config controls when the engine is willing to call a winner.
type Config struct {
	// MinimumSampleSize is the impressions every variant needs before
	// any decision is attempted.
	MinimumSampleSize int64
	// SignificanceThreshold is the minimum confidence to declare a
	// winner. For A/B/n it is tightened by the number of comparisons.
	SignificanceThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MinimumSampleSize <= 0 {
		c.MinimumSampleSize = 200
	}
	if c.SignificanceThreshold <= 0 || c.SignificanceThreshold >= 1 {
		c.SignificanceThreshold = 0.95
	}
	return c
}

// InvalidStateError means the engine was invoked against an experiment
// that is not running.
type InvalidStateError struct {
	ExperimentID string
	Status       store.ExperimentStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("experiment %s is not running (status: %s)", e.ExperimentID, e.Status)
}

// VariantResult is one variant's share of an evaluation snapshot.
type VariantResult struct {
	ID             string
	Name           string
	Position       int
	Impressions    int64
	Clicks         int64
	Conversions    int64
	CTR            float64
	ConversionRate float64
	CILower        float64
	CIUpper        float64
}

// Decision is the outcome of one evaluation. A nil Confidence means some
// variant is still below the minimum sample size; a nil WinnerVariantID
// with a non-nil Confidence means no significant (or an ambiguous)
// result so far. Both are normal outcomes, not errors.
type Decision struct {
	ExperimentID    string
	Confidence      *float64
	WinnerVariantID *string
	Variants        []VariantResult
	EvaluatedAt     time.Time
	Stopped         bool // early stop committed with this decision's winner
	Completed       bool // closed at end date without significance
}

// Engine owns the experiment state machine: it is the only component
// that sets winner and confidence.
type Engine struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(s store.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor hands out the per-experiment mutex. Evaluations of one
// experiment serialize against each other; unrelated experiments never
// contend.
func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Evaluate computes a decision snapshot for a running experiment without
// touching experiment state. Identical counters produce an identical
// decision.
func (e *Engine) Evaluate(ctx context.Context, experimentID string) (*Decision, error) {
	l := e.lockFor(experimentID)
	l.Lock()
	defer l.Unlock()

	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != store.StatusRunning {
		return nil, &InvalidStateError{ExperimentID: exp.ID, Status: exp.Status}
	}

	return e.decide(exp)
}

// EvaluateAndApply evaluates and then commits the outcome: a significant
// winner stops the experiment early, an expired experiment without one
// completes, and anything else just refreshes the stored confidence.
// Every state write re-checks the running status inside the UPDATE, so a
// decision that raced a manual stop is discarded rather than applied.
func (e *Engine) EvaluateAndApply(ctx context.Context, experimentID string) (*Decision, error) {
	l := e.lockFor(experimentID)
	l.Lock()
	defer l.Unlock()

	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != store.StatusRunning {
		return nil, &InvalidStateError{ExperimentID: exp.ID, Status: exp.Status}
	}

	decision, err := e.decide(exp)
	if err != nil {
		return nil, err
	}

	switch {
	case decision.WinnerVariantID != nil:
		committed, err := e.store.CommitDecision(ctx, exp.ID, *decision.WinnerVariantID, *decision.Confidence)
		if err != nil {
			return nil, err
		}
		decision.Stopped = committed
		if committed {
			e.logger.Info("experiment stopped early with winner",
				"experiment", exp.ID,
				"winner", *decision.WinnerVariantID,
				"confidence", *decision.Confidence)
		}
	case exp.EndDate != nil && e.now().After(*exp.EndDate):
		if err := e.store.CompleteExperiment(ctx, exp.ID); err != nil {
			if err != store.ErrConflict {
				return nil, err
			}
			// someone else closed it first; nothing to apply
		} else {
			decision.Completed = true
			e.logger.Info("experiment completed without significance", "experiment", exp.ID)
		}
	case decision.Confidence != nil:
		if err := e.store.UpdateConfidence(ctx, exp.ID, *decision.Confidence); err != nil {
			return nil, err
		}
	}

	return decision, nil
}

// EvaluateAll sweeps every running experiment with a bounded worker
// pool. A failure in one experiment is logged and never interrupts the
// others.
func (e *Engine) EvaluateAll(ctx context.Context, workers int) error {
	experiments, err := e.store.ListExperiments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list experiments: %w", err)
	}

	if workers <= 0 {
		workers = 4
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, exp := range experiments {
		if exp.Status != store.StatusRunning {
			continue
		}
		exp := exp
		g.Go(func() error {
			if _, err := e.EvaluateAndApply(ctx, exp.ID); err != nil {
				e.logger.Error("evaluation failed", "experiment", exp.ID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Run re-evaluates all running experiments on a fixed interval until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration, workers int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.EvaluateAll(ctx, workers); err != nil {
				e.logger.Error("evaluation sweep failed", "error", err)
			}
		}
	}
}

// decide is the pure computation: counters in, decision out.
func (e *Engine) decide(exp *store.Experiment) (*Decision, error) {
	decision := &Decision{
		ExperimentID: exp.ID,
		EvaluatedAt:  e.now(),
		Variants:     make([]VariantResult, len(exp.Variants)),
	}

	sufficient := true
	for i, v := range exp.Variants {
		m, err := metrics.Compute(v)
		if err != nil {
			return nil, err
		}

		ciLower, ciUpper := WilsonInterval(v.Conversions, v.Clicks, e.cfg.SignificanceThreshold)
		decision.Variants[i] = VariantResult{
			ID:             v.ID,
			Name:           v.Name,
			Position:       v.Position,
			Impressions:    v.Impressions,
			Clicks:         v.Clicks,
			Conversions:    v.Conversions,
			CTR:            m.CTR,
			ConversionRate: m.ConversionRate,
			CILower:        ciLower,
			CIUpper:        ciUpper,
		}

		if v.Impressions < e.cfg.MinimumSampleSize {
			sufficient = false
		}
	}

	// Not enough traffic yet: a normal outcome, re-poll after more events.
	if !sufficient {
		return decision, nil
	}

	leader, tied := leadingVariant(exp.Variants)
	control := exp.Variants[0]

	// Orient the test toward the leader so confidence is P(leader beats
	// its reference), the reference being the control, or the best
	// challenger when the control itself leads.
	var opponent store.Variant
	if leader == 0 {
		opponent = bestChallenger(exp.Variants)
	} else {
		opponent = control
	}
	lv := exp.Variants[leader]
	confidence := Confidence(lv.Conversions, lv.Clicks, opponent.Conversions, opponent.Clicks)
	decision.Confidence = &confidence

	// Bonferroni: with n-1 challengers tested against the control, the
	// acceptance bar rises so the family-wise false positive rate stays
	// at 1-threshold.
	threshold := e.cfg.SignificanceThreshold
	if comparisons := len(exp.Variants) - 1; comparisons > 1 {
		threshold = 1 - (1-threshold)/float64(comparisons)
	}

	if !tied && confidence >= threshold {
		decision.WinnerVariantID = &exp.Variants[leader].ID
	}

	return decision, nil
}

// leadingVariant finds the variant with the highest conversion rate.
// Rates are compared by cross-multiplying the integer counters, so two
// variants with mathematically equal rates always register as a tie.
func leadingVariant(variants []store.Variant) (leader int, tied bool) {
	for i := 1; i < len(variants); i++ {
		switch compareRates(variants[i], variants[leader]) {
		case 1:
			leader = i
			tied = false
		case 0:
			tied = true
		}
	}
	return leader, tied
}

func bestChallenger(variants []store.Variant) store.Variant {
	best := variants[1]
	for _, v := range variants[2:] {
		if compareRates(v, best) > 0 {
			best = v
		}
	}
	return best
}

// compareRates orders conversions/clicks exactly: a/b vs c/d compares as
// a*d vs c*b. Zero clicks count as a zero rate.
func compareRates(a, b store.Variant) int {
	if a.Clicks == 0 || b.Clicks == 0 {
		return compareZeroRate(a, b)
	}
	left := a.Conversions * b.Clicks
	right := b.Conversions * a.Clicks
	switch {
	case left > right:
		return 1
	case left < right:
		return -1
	default:
		return 0
	}
}

func compareZeroRate(a, b store.Variant) int {
	aPositive := a.Clicks > 0 && a.Conversions > 0
	bPositive := b.Clicks > 0 && b.Conversions > 0
	switch {
	case aPositive && !bPositive:
		return 1
	case bPositive && !aPositive:
		return -1
	default:
		return 0
	}
}
