package explain

import (
	"context"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// deepTree splits on feature 0 twice so the exact walk has to unwind it.
func deepTree() *model.Tree {
	return &model.Tree{
		Left:      []int{1, 3, 5, -1, 7, -1, -1, -1, -1},
		Right:     []int{2, 4, 6, -1, 8, -1, -1, -1, -1},
		Feature:   []int{0, 1, 0, -1, 2, -1, -1, -1, -1},
		Threshold: []float64{0.5, 0.5, 1.5, 0, 0.5, 0, 0, 0, 0},
		Value:     [][]float64{{0}, {0}, {0}, {0.2}, {0}, {-0.4}, {0.9}, {-0.1}, {0.5}},
		Cover:     []float64{100, 60, 40, 30, 30, 25, 15, 10, 20},
	}
}

func stumpTree(feature int, left, right []float64, coverLeft, coverRight float64) *model.Tree {
	root := make([]float64, len(left))
	for i := range root {
		root[i] = left[i] + right[i]
	}
	return &model.Tree{
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Feature:   []int{feature, -1, -1},
		Threshold: []float64{0.5, 0, 0},
		Value:     [][]float64{root, left, right},
		Cover:     []float64{coverLeft + coverRight, coverLeft, coverRight},
	}
}

func boosting(t *testing.T) model.Classifier {
	t.Helper()
	c, err := model.New(model.Spec{
		Kind:        model.KindGradientBoosting,
		NumFeatures: 3,
		SplitRule:   model.SplitLess,
		BaseMargin:  0.1,
		Trees: []*model.Tree{
			deepTree(),
			stumpTree(2, []float64{-0.3}, []float64{0.3}, 50, 50),
		},
	})
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}
	return c
}

func forest(t *testing.T) model.Classifier {
	t.Helper()
	c, err := model.New(model.Spec{
		Kind:          model.KindRandomForest,
		NumFeatures:   3,
		PositiveClass: 1,
		Trees: []*model.Tree{
			stumpTree(0, []float64{8, 2}, []float64{1, 4}, 10, 5),
			stumpTree(1, []float64{3, 3}, []float64{0, 6}, 6, 6),
		},
	})
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}
	return c
}

var featureNames = []string{"f0", "f1", "f2"}

// condExpect is the path-dependent value function: features in s follow
// x, the others average their children by cover.
func condExpect(tr *model.Tree, x []float64, s map[int]bool, rule model.SplitRule, node, out int) float64 {
	if tr.IsLeaf(node) {
		return tr.Value[node][out]
	}
	if s[tr.Feature[node]] {
		if tr.GoesLeft(node, x, rule) {
			return condExpect(tr, x, s, rule, tr.Left[node], out)
		}
		return condExpect(tr, x, s, rule, tr.Right[node], out)
	}
	l, r := tr.Left[node], tr.Right[node]
	return (tr.Cover[l]*condExpect(tr, x, s, rule, l, out) + tr.Cover[r]*condExpect(tr, x, s, rule, r, out)) / tr.Cover[node]
}

// bruteForce enumerates every coalition.
func bruteForce(ens model.TreeEnsemble, x []float64) []float64 {
	n := ens.NumFeatures()
	value := func(mask int) float64 {
		s := make(map[int]bool)
		for j := 0; j < n; j++ {
			if mask&(1<<j) != 0 {
				s[j] = true
			}
		}
		v := ens.Base()
		for _, tr := range ens.Trees() {
			v += ens.TreeWeight() * condExpect(tr, x, s, ens.SplitRule(), 0, ens.PositiveOutput())
		}
		return v
	}

	fact := func(k int) float64 {
		f := 1.0
		for i := 2; i <= k; i++ {
			f *= float64(i)
		}
		return f
	}

	phi := make([]float64, n)
	for j := 0; j < n; j++ {
		for mask := 0; mask < 1<<n; mask++ {
			if mask&(1<<j) != 0 {
				continue
			}
			size := 0
			for k := 0; k < n; k++ {
				if mask&(1<<k) != 0 {
					size++
				}
			}
			w := fact(size) * fact(n-size-1) / fact(n)
			phi[j] += w * (value(mask|1<<j) - value(mask))
		}
	}
	return phi
}

var instances = [][]float64{
	{0, 0, 0},
	{0, 1, 1},
	{1, 0, 1},
	{2, 1, 0},
	{1, 1, 1},
	{0.5, 0.5, 0.5},
}

func TestTreeExactMatchesBruteForce(t *testing.T) {
	for _, tc := range []struct {
		name string
		c    model.Classifier
	}{
		{"GradientBoosting", boosting(t)},
		{"RandomForest", forest(t)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewTreeExact(tc.c, featureNames)
			if err != nil {
				t.Fatalf("NewTreeExact failed: %v", err)
			}
			ens := tc.c.(model.TreeEnsemble)

			for _, x := range instances {
				attr, err := s.Attribute(context.Background(), x)
				if err != nil {
					t.Fatalf("Attribute(%v) failed: %v", x, err)
				}
				want := bruteForce(ens, x)
				for j, c := range attr.Contributions {
					if math.Abs(c.Contribution-want[j]) > 1e-9 {
						t.Errorf("x=%v feature %d: expected %f, got %f", x, j, want[j], c.Contribution)
					}
				}
			}
		})
	}
}

func TestTreeExactSumsToOutput(t *testing.T) {
	c := boosting(t)
	s, _ := NewTreeExact(c, featureNames)
	ens := c.(model.TreeEnsemble)

	for _, x := range instances {
		attr, err := s.Attribute(context.Background(), x)
		if err != nil {
			t.Fatalf("Attribute failed: %v", err)
		}
		raw, _ := ens.RawOutput(x)
		if math.Abs(attr.Baseline+attr.Sum()-raw) > 1e-6 {
			t.Errorf("x=%v: baseline %f + sum %f != output %f", x, attr.Baseline, attr.Sum(), raw)
		}
		if attr.Space != domain.SpaceLogOdds || attr.Method != domain.MethodTreeExact {
			t.Errorf("unexpected space/method %s/%s", attr.Space, attr.Method)
		}
	}
}

func TestTreeExactPositiveClassSlice(t *testing.T) {
	// Class 0 and class 1 contributions are mirror images; mixing them
	// would cancel out to zero.
	c, err := model.New(model.Spec{
		Kind:          model.KindRandomForest,
		NumFeatures:   1,
		PositiveClass: 1,
		Trees:         []*model.Tree{stumpTree(0, []float64{1, 0}, []float64{0, 1}, 5, 5)},
	})
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}

	s, _ := NewTreeExact(c, []string{"f0"})
	if s.Baseline() != 0.5 {
		t.Errorf("expected baseline 0.5, got %f", s.Baseline())
	}

	attr, err := s.Attribute(context.Background(), []float64{1})
	if err != nil {
		t.Fatalf("Attribute failed: %v", err)
	}
	if attr.Contributions[0].Contribution != 0.5 {
		t.Errorf("expected +0.5 for the positive class, got %f", attr.Contributions[0].Contribution)
	}
	if attr.Output != 1 || attr.Space != domain.SpaceProbability {
		t.Errorf("expected probability output 1, got %f in %s", attr.Output, attr.Space)
	}
}

func TestTreeExactRejectsLinearModel(t *testing.T) {
	c, _ := model.New(model.Spec{
		Kind:        model.KindLogisticRegression,
		NumFeatures: 3,
		Coef:        []float64{1, 1, 1},
	})
	if _, err := NewTreeExact(c, featureNames); err == nil {
		t.Error("expected error for a classifier without trees")
	}
}
