package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GradientBoosting is a boosted tree ensemble with a logistic link.
// Leaves hold margin contributions; the probability is the sigmoid of the
// base margin plus the summed leaves.
type GradientBoosting struct {
	header
	trees      []*Tree
	rule       SplitRule
	baseMargin float64
}

func newGradientBoosting(h header, spec Spec) (*GradientBoosting, error) {
	rule, err := splitRule(spec.SplitRule, SplitLess)
	if err != nil {
		return nil, err
	}
	if len(spec.Trees) == 0 {
		return nil, fmt.Errorf("gradient boosting classifier has no trees")
	}
	for i, t := range spec.Trees {
		if err := t.validate(h.numFeatures, 1); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &GradientBoosting{
		header:     h,
		trees:      spec.Trees,
		rule:       rule,
		baseMargin: spec.BaseMargin,
	}, nil
}

func (g *GradientBoosting) Trees() []*Tree            { return g.trees }
func (g *GradientBoosting) Space() domain.OutputSpace { return domain.SpaceLogOdds }
func (g *GradientBoosting) Base() float64             { return g.baseMargin }
func (g *GradientBoosting) TreeWeight() float64       { return 1 }
func (g *GradientBoosting) PositiveOutput() int       { return 0 }
func (g *GradientBoosting) SplitRule() SplitRule      { return g.rule }

// RawOutput returns the log-odds margin for x.
func (g *GradientBoosting) RawOutput(x []float64) (float64, error) {
	if err := g.checkInput(x); err != nil {
		return 0, err
	}
	margin := g.baseMargin
	for _, t := range g.trees {
		margin += t.Value[t.Leaf(x, g.rule)][0]
	}
	return margin, nil
}

// PredictProba returns the sigmoid of the margin.
func (g *GradientBoosting) PredictProba(x []float64) (float64, error) {
	margin, err := g.RawOutput(x)
	if err != nil {
		return 0, err
	}
	return Sigmoid(margin), nil
}

// RandomForest averages per-tree class distributions.
// Leaf rows are normalized to class fractions at construction.
type RandomForest struct {
	header
	trees    []*Tree
	rule     SplitRule
	positive int
}

func newRandomForest(h header, spec Spec) (*RandomForest, error) {
	rule, err := splitRule(spec.SplitRule, SplitLessEqual)
	if err != nil {
		return nil, err
	}
	if len(spec.Trees) == 0 {
		return nil, fmt.Errorf("random forest classifier has no trees")
	}

	outputs := spec.Trees[0].Outputs()
	if outputs < 2 {
		return nil, fmt.Errorf("random forest needs at least 2 classes, got %d", outputs)
	}
	if spec.PositiveClass < 0 || spec.PositiveClass >= outputs {
		return nil, fmt.Errorf("positive_class %d outside [0, %d)", spec.PositiveClass, outputs)
	}

	for i, t := range spec.Trees {
		if err := t.validate(h.numFeatures, outputs); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if err := normalizeRows(t); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}

	return &RandomForest{
		header:   h,
		trees:    spec.Trees,
		rule:     rule,
		positive: spec.PositiveClass,
	}, nil
}

func (f *RandomForest) Trees() []*Tree            { return f.trees }
func (f *RandomForest) Space() domain.OutputSpace { return domain.SpaceProbability }
func (f *RandomForest) Base() float64             { return 0 }
func (f *RandomForest) TreeWeight() float64       { return 1 / float64(len(f.trees)) }
func (f *RandomForest) PositiveOutput() int       { return f.positive }
func (f *RandomForest) SplitRule() SplitRule      { return f.rule }

// RawOutput equals PredictProba for a forest.
func (f *RandomForest) RawOutput(x []float64) (float64, error) {
	return f.PredictProba(x)
}

// PredictProba returns the mean positive-class fraction over all trees.
func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if err := f.checkInput(x); err != nil {
		return 0, err
	}
	var sum float64
	for _, t := range f.trees {
		sum += t.Value[t.Leaf(x, f.rule)][f.positive]
	}
	return sum / float64(len(f.trees)), nil
}

// normalizeRows turns class counts into fractions. Rows that already sum
// to one are unchanged.
func normalizeRows(t *Tree) error {
	for i, row := range t.Value {
		var total float64
		for _, v := range row {
			if v < 0 || math.IsNaN(v) {
				return fmt.Errorf("node %d has invalid class weight %v", i, v)
			}
			total += v
		}
		if total == 0 {
			return fmt.Errorf("node %d has an empty class distribution", i)
		}
		for j := range row {
			row[j] /= total
		}
	}
	return nil
}

func splitRule(r SplitRule, fallback SplitRule) (SplitRule, error) {
	switch r {
	case "":
		return fallback, nil
	case SplitLess, SplitLessEqual:
		return r, nil
	default:
		return "", fmt.Errorf("unsupported split_rule %q", r)
	}
}
