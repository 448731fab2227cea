// Package model holds the fitted classifiers that score feature vectors.
// Classifiers are decoded once from their exported JSON form and are
// read-only afterwards, so every method is safe for concurrent use.
package model

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind identifies the classifier family of an artifact.
type Kind string

const (
	KindGradientBoosting   Kind = "gradient_boosting"
	KindRandomForest       Kind = "random_forest"
	KindLogisticRegression Kind = "logistic_regression"
)

// Classifier predicts the probability of the positive (default) class.
type Classifier interface {
	Kind() Kind
	RunID() string
	NumFeatures() int
	FeatureNames() []string

	// PredictProba returns P(default | x).
	PredictProba(x []float64) (float64, error)
}

// TreeEnsemble is implemented by classifiers whose structure supports
// exact tree attribution. The model's raw output in Space() is
// Base() + TreeWeight() * sum of the positive-output leaf values.
type TreeEnsemble interface {
	Classifier

	Trees() []*Tree
	Space() domain.OutputSpace
	Base() float64
	TreeWeight() float64
	PositiveOutput() int
	SplitRule() SplitRule

	// RawOutput returns the model output in Space() for x.
	RawOutput(x []float64) (float64, error)
}

// Spec is the serialized form of a classifier artifact.
type Spec struct {
	RunID        string   `json:"run_id"`
	Kind         Kind     `json:"kind"`
	NumFeatures  int      `json:"num_features"`
	FeatureNames []string `json:"feature_names"`

	// Tree ensembles
	SplitRule     SplitRule `json:"split_rule,omitempty"`
	BaseMargin    float64   `json:"base_margin,omitempty"`
	PositiveClass int       `json:"positive_class,omitempty"`
	Trees         []*Tree   `json:"trees,omitempty"`

	// Logistic regression
	Coef      []float64 `json:"coef,omitempty"`
	Intercept float64   `json:"intercept,omitempty"`
}

// New builds a classifier from spec.
func New(spec Spec) (Classifier, error) {
	if spec.NumFeatures <= 0 {
		return nil, fmt.Errorf("classifier num_features must be positive, got %d", spec.NumFeatures)
	}
	if len(spec.FeatureNames) > 0 && len(spec.FeatureNames) != spec.NumFeatures {
		return nil, fmt.Errorf("classifier has %d feature names for %d features", len(spec.FeatureNames), spec.NumFeatures)
	}

	h := header{
		kind:         spec.Kind,
		runID:        spec.RunID,
		numFeatures:  spec.NumFeatures,
		featureNames: spec.FeatureNames,
	}

	switch spec.Kind {
	case KindGradientBoosting:
		return newGradientBoosting(h, spec)
	case KindRandomForest:
		return newRandomForest(h, spec)
	case KindLogisticRegression:
		return newLogisticRegression(h, spec)
	default:
		return nil, fmt.Errorf("%w: classifier kind %q", domain.ErrUnsupportedModel, spec.Kind)
	}
}

// Decode reads a JSON classifier artifact.
func Decode(r io.Reader) (Classifier, error) {
	var spec Spec
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode classifier: %w", err)
	}
	return New(spec)
}

type header struct {
	kind         Kind
	runID        string
	numFeatures  int
	featureNames []string
}

func (h header) Kind() Kind       { return h.kind }
func (h header) RunID() string    { return h.runID }
func (h header) NumFeatures() int { return h.numFeatures }

func (h header) FeatureNames() []string {
	out := make([]string, len(h.featureNames))
	copy(out, h.featureNames)
	return out
}

func (h header) checkInput(x []float64) error {
	if len(x) != h.numFeatures {
		return fmt.Errorf("%w: classifier expects %d features, got %d", domain.ErrSchemaMismatch, h.numFeatures, len(x))
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %d is not finite", i)
		}
	}
	return nil
}

// Sigmoid maps a log-odds margin to a probability.
func Sigmoid(margin float64) float64 {
	if margin >= 0 {
		return 1 / (1 + math.Exp(-margin))
	}
	e := math.Exp(margin)
	return e / (1 + e)
}
