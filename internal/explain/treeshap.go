package explain

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// sumTolerance bounds |baseline + sum - output| for exact attributions.
const sumTolerance = 1e-6

// TreeExact computes exact path-dependent Shapley values over the
// structure of a tree ensemble. Expectations are taken under the training
// distribution recorded in node covers, so no background data is needed.
type TreeExact struct {
	ensemble model.TreeEnsemble
	names    []string
	baseline float64
}

// NewTreeExact builds the exact strategy. It fails with
// domain.ErrUnsupportedModel for classifiers without tree structure.
func NewTreeExact(c model.Classifier, names []string) (*TreeExact, error) {
	ens, ok := c.(model.TreeEnsemble)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no tree structure", domain.ErrUnsupportedModel, c.Kind())
	}
	if len(names) != ens.NumFeatures() {
		return nil, fmt.Errorf("%w: %d feature names for %d features", domain.ErrSchemaMismatch, len(names), ens.NumFeatures())
	}

	baseline := ens.Base()
	for _, t := range ens.Trees() {
		baseline += ens.TreeWeight() * t.Expected(ens.PositiveOutput())
	}

	return &TreeExact{ensemble: ens, names: names, baseline: baseline}, nil
}

// Method implements Strategy.
func (s *TreeExact) Method() domain.AttributionMethod {
	return domain.MethodTreeExact
}

// Attribute implements Strategy.
func (s *TreeExact) Attribute(ctx context.Context, x []float64) (*domain.AttributionSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output, err := s.ensemble.RawOutput(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAttribution, err)
	}

	n := s.ensemble.NumFeatures()
	pos := s.ensemble.PositiveOutput()
	weight := s.ensemble.TreeWeight()
	phi := make([]float64, n)

	for _, t := range s.ensemble.Trees() {
		perOutput := treeShap(t, x, s.ensemble.SplitRule())
		// Only the positive-class slice contributes to P(default).
		for j, v := range perOutput[pos] {
			phi[j] += weight * v
		}
	}

	attr := newAttribution(s.names, x, phi)
	attr.Baseline = s.baseline
	attr.Output = output
	attr.Space = s.ensemble.Space()
	attr.Method = domain.MethodTreeExact

	if err := checkSum(attr, sumTolerance); err != nil {
		return nil, err
	}
	return attr, nil
}

// Baseline returns the expected raw model output.
func (s *TreeExact) Baseline() float64 {
	return s.baseline
}

// pathElem is one feature on the current root-to-node path.
type pathElem struct {
	feature      int
	zeroFraction float64
	oneFraction  float64
	weight       float64
}

// treeShap returns Shapley values of one tree, indexed [output][feature].
func treeShap(t *model.Tree, x []float64, rule model.SplitRule) [][]float64 {
	outputs := t.Outputs()
	phi := make([][]float64, outputs)
	for o := range phi {
		phi[o] = make([]float64, len(x))
	}

	w := &treeWalker{tree: t, x: x, rule: rule, phi: phi}
	w.recurse(0, nil, 0, 1, 1, -1)
	return phi
}

type treeWalker struct {
	tree *model.Tree
	x    []float64
	rule model.SplitRule
	phi  [][]float64
}

func (w *treeWalker) recurse(node int, parent []pathElem, depth int, zeroFraction, oneFraction float64, feature int) {
	t := w.tree

	path := make([]pathElem, depth+1)
	copy(path, parent[:depth])
	extendPath(path, depth, zeroFraction, oneFraction, feature)

	if t.IsLeaf(node) {
		for i := 1; i <= depth; i++ {
			scale := unwoundPathSum(path, depth, i)
			el := path[i]
			for o, v := range t.Value[node] {
				w.phi[o][el.feature] += scale * (el.oneFraction - el.zeroFraction) * v
			}
		}
		return
	}

	hot, cold := t.Right[node], t.Left[node]
	if t.GoesLeft(node, w.x, w.rule) {
		hot, cold = cold, hot
	}
	split := t.Feature[node]
	hotZero := t.Cover[hot] / t.Cover[node]
	coldZero := t.Cover[cold] / t.Cover[node]

	// A feature seen higher on the path is unwound so it appears once.
	incomingZero, incomingOne := 1.0, 1.0
	k := 0
	for ; k <= depth; k++ {
		if path[k].feature == split {
			break
		}
	}
	if k <= depth {
		incomingZero = path[k].zeroFraction
		incomingOne = path[k].oneFraction
		unwindPath(path, depth, k)
		depth--
	}

	w.recurse(hot, path, depth+1, hotZero*incomingZero, incomingOne, split)
	w.recurse(cold, path, depth+1, coldZero*incomingZero, 0, split)
}

func extendPath(path []pathElem, depth int, zeroFraction, oneFraction float64, feature int) {
	path[depth] = pathElem{feature: feature, zeroFraction: zeroFraction, oneFraction: oneFraction}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += oneFraction * path[i].weight * float64(i+1) / d
		path[i].weight = zeroFraction * path[i].weight * float64(depth-i) / d
	}
}

func unwindPath(path []pathElem, depth, k int) {
	one := path[k].oneFraction
	zero := path[k].zeroFraction
	next := path[depth].weight
	d := float64(depth + 1)

	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * d / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/d
		} else {
			path[i].weight = path[i].weight * d / (zero * float64(depth-i))
		}
	}

	for i := k; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
}

func unwoundPathSum(path []pathElem, depth, k int) float64 {
	one := path[k].oneFraction
	zero := path[k].zeroFraction
	next := path[depth].weight
	d := float64(depth + 1)

	var total float64
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/d
		} else {
			total += path[i].weight / zero / (float64(depth-i) / d)
		}
	}
	return total
}

func newAttribution(names []string, x, phi []float64) *domain.AttributionSet {
	attr := &domain.AttributionSet{
		Contributions: make([]domain.FeatureContribution, len(phi)),
	}
	for j, v := range phi {
		attr.Contributions[j] = domain.FeatureContribution{
			Feature:      names[j],
			Value:        x[j],
			Contribution: v,
		}
	}
	return attr
}

// checkSum rejects attributions that are not finite or do not add up to
// the model output.
func checkSum(attr *domain.AttributionSet, tol float64) error {
	total := attr.Baseline + attr.Sum()
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return fmt.Errorf("%w: non-finite contributions", domain.ErrAttribution)
	}
	if diff := math.Abs(total - attr.Output); diff > tol*math.Max(1, math.Abs(attr.Output)) {
		return fmt.Errorf("%w: contributions miss model output by %g", domain.ErrAttribution, diff)
	}
	return nil
}
