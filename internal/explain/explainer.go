// Package explain decomposes predictions into per-feature contributions.
//
// Two strategies are available: TreeExact computes exact Shapley values
// from the structure of tree ensembles, and Sampling estimates them for any
// classifier. The Explainer picks a strategy once per classifier and falls
// back from exact to sampling when the exact path fails.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// Strategy computes the attribution of one processed feature vector.
type Strategy interface {
	Method() domain.AttributionMethod
	Attribute(ctx context.Context, x []float64) (*domain.AttributionSet, error)
}

// Result is the outcome of one explanation attempt.
type Result struct {
	Attribution *domain.AttributionSet
	Outcome     domain.ExplanationOutcome
	PrimaryErr  error
	FallbackErr error
}

// Err returns the combined failure when no attribution was produced.
func (r Result) Err() error {
	if r.Outcome != domain.OutcomeUnavailable {
		return nil
	}
	return errors.Join(r.PrimaryErr, r.FallbackErr)
}

// Config configures an Explainer.
type Config struct {
	Sampling SamplingConfig
}

// Explainer runs the primary strategy and, for tree ensembles, a sampling
// fallback. It is immutable and safe for concurrent use.
type Explainer struct {
	primary  Strategy
	fallback Strategy
	names    []string
}

// New selects strategies for c. Tree ensembles get exact attribution with
// sampling as fallback; other classifiers get sampling alone. background
// supplies the rows used by sampling.
func New(c model.Classifier, names []string, background [][]float64, cfg Config) (*Explainer, error) {
	sampling, err := NewSampling(c, names, background, cfg.Sampling)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampling strategy: %w", err)
	}

	e := &Explainer{names: names}

	exact, err := NewTreeExact(c, names)
	switch {
	case err == nil:
		e.primary = exact
		e.fallback = sampling
	case errors.Is(err, domain.ErrUnsupportedModel):
		e.primary = sampling
	default:
		return nil, fmt.Errorf("failed to create exact strategy: %w", err)
	}

	slog.Debug("explainer ready",
		"classifier", c.Kind(),
		"primary", e.primary.Method(),
		"has_fallback", e.fallback != nil,
		"background_rows", len(sampling.background),
	)

	return e, nil
}

// NewWithStrategies builds an Explainer from explicit strategies.
// fallback may be nil.
func NewWithStrategies(primary, fallback Strategy, names []string) *Explainer {
	return &Explainer{primary: primary, fallback: fallback, names: names}
}

// Primary returns the strategy tried first.
func (e *Explainer) Primary() Strategy {
	return e.primary
}

// FeatureNames returns the processed feature names.
func (e *Explainer) FeatureNames() []string {
	return e.names
}

// Explain attributes x. Failure of every strategy is reported in the
// Result, never as a panic or a blocking error.
func (e *Explainer) Explain(ctx context.Context, x []float64) Result {
	attr, err := e.primary.Attribute(ctx, x)
	if err == nil {
		return Result{Attribution: attr, Outcome: domain.OutcomePrimary}
	}

	res := Result{Outcome: domain.OutcomeUnavailable, PrimaryErr: err}
	if e.fallback == nil {
		return res
	}

	slog.Warn("primary attribution failed, falling back",
		"method", e.primary.Method(),
		"fallback", e.fallback.Method(),
		"error", err,
	)

	attr, err = e.fallback.Attribute(ctx, x)
	if err != nil {
		res.FallbackErr = err
		return res
	}

	res.Attribution = attr
	res.Outcome = domain.OutcomeFellBack
	return res
}
