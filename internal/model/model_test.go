package model

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func stump(left, right []float64, coverLeft, coverRight float64) *Tree {
	root := make([]float64, len(left))
	for i := range root {
		root[i] = left[i] + right[i]
	}
	return &Tree{
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Feature:   []int{0, -1, -1},
		Threshold: []float64{0.5, 0, 0},
		Value:     [][]float64{root, left, right},
		Cover:     []float64{coverLeft + coverRight, coverLeft, coverRight},
	}
}

func boostingSpec() Spec {
	return Spec{
		RunID:       "run-1",
		Kind:        KindGradientBoosting,
		NumFeatures: 2,
		SplitRule:   SplitLess,
		Trees:       []*Tree{stump([]float64{-1}, []float64{1}, 5, 5)},
	}
}

func TestGradientBoosting(t *testing.T) {
	c, err := New(boostingSpec())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p, err := c.PredictProba([]float64{0, 0})
	if err != nil {
		t.Fatalf("PredictProba failed: %v", err)
	}
	if math.Abs(p-Sigmoid(-1)) > 1e-12 {
		t.Errorf("expected %f, got %f", Sigmoid(-1), p)
	}

	// lt sends a value equal to the threshold right
	p, _ = c.PredictProba([]float64{0.5, 0})
	if math.Abs(p-Sigmoid(1)) > 1e-12 {
		t.Errorf("expected right leaf at threshold, got %f", p)
	}

	ens, ok := c.(TreeEnsemble)
	if !ok {
		t.Fatal("gradient boosting should expose tree structure")
	}
	if ens.Space() != domain.SpaceLogOdds {
		t.Errorf("expected log-odds space, got %s", ens.Space())
	}
	if e := ens.Trees()[0].Expected(0); e != 0 {
		t.Errorf("expected cover-weighted mean 0, got %f", e)
	}
}

func TestSplitRuleLessEqual(t *testing.T) {
	spec := boostingSpec()
	spec.SplitRule = SplitLessEqual
	c, _ := New(spec)

	p, _ := c.PredictProba([]float64{0.5, 0})
	if math.Abs(p-Sigmoid(-1)) > 1e-12 {
		t.Errorf("le should send threshold value left, got %f", p)
	}
}

func TestRandomForest(t *testing.T) {
	spec := Spec{
		Kind:          KindRandomForest,
		NumFeatures:   1,
		PositiveClass: 1,
		Trees: []*Tree{
			stump([]float64{5, 1}, []float64{1, 3}, 6, 4),
			stump([]float64{1, 0}, []float64{0, 1}, 6, 4),
		},
	}
	c, err := New(spec)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p, _ := c.PredictProba([]float64{1})
	want := (0.75 + 1.0) / 2
	if math.Abs(p-want) > 1e-12 {
		t.Errorf("expected %f, got %f", want, p)
	}

	ens := c.(TreeEnsemble)
	if ens.Space() != domain.SpaceProbability {
		t.Errorf("expected probability space, got %s", ens.Space())
	}
	if ens.TreeWeight() != 0.5 {
		t.Errorf("expected tree weight 0.5, got %f", ens.TreeWeight())
	}
	if ens.SplitRule() != SplitLessEqual {
		t.Errorf("expected forest default split rule le, got %s", ens.SplitRule())
	}
}

func TestLogisticRegression(t *testing.T) {
	c, err := New(Spec{
		Kind:        KindLogisticRegression,
		NumFeatures: 2,
		Coef:        []float64{1, -2},
		Intercept:   0.5,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p, _ := c.PredictProba([]float64{1, 1})
	if math.Abs(p-Sigmoid(-0.5)) > 1e-12 {
		t.Errorf("expected %f, got %f", Sigmoid(-0.5), p)
	}

	if _, ok := c.(TreeEnsemble); ok {
		t.Error("logistic regression must not expose tree structure")
	}
}

func TestPredictProbaRejectsBadInput(t *testing.T) {
	c, _ := New(boostingSpec())

	if _, err := c.PredictProba([]float64{1}); !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch for short vector, got %v", err)
	}
	if _, err := c.PredictProba([]float64{math.NaN(), 0}); err == nil {
		t.Error("expected error for NaN feature")
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		is     error
	}{
		{"UnknownKind", func(s *Spec) { s.Kind = "svm" }, domain.ErrUnsupportedModel},
		{"ZeroFeatures", func(s *Spec) { s.NumFeatures = 0 }, nil},
		{"FeatureNameCount", func(s *Spec) { s.FeatureNames = []string{"a"} }, nil},
		{"NoTrees", func(s *Spec) { s.Trees = nil }, nil},
		{"BadSplitRule", func(s *Spec) { s.SplitRule = "gt" }, nil},
		{"CyclicChild", func(s *Spec) { s.Trees[0].Left[0] = 0 }, nil},
		{"FeatureOutOfRange", func(s *Spec) { s.Trees[0].Feature[0] = 5 }, nil},
		{"ShortArrays", func(s *Spec) { s.Trees[0].Cover = s.Trees[0].Cover[:2] }, nil},
		{"WrongOutputs", func(s *Spec) { s.Trees[0].Value[1] = []float64{1, 2} }, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := boostingSpec()
			tc.mutate(&spec)
			_, err := New(spec)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Errorf("expected %v, got %v", tc.is, err)
			}
		})
	}

	t.Run("PositiveClassOutOfRange", func(t *testing.T) {
		_, err := New(Spec{
			Kind:          KindRandomForest,
			NumFeatures:   1,
			PositiveClass: 2,
			Trees:         []*Tree{stump([]float64{1, 0}, []float64{0, 1}, 1, 1)},
		})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("CoefCount", func(t *testing.T) {
		_, err := New(Spec{Kind: KindLogisticRegression, NumFeatures: 2, Coef: []float64{1}})
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestDecode(t *testing.T) {
	body := `{
		"run_id": "run-9",
		"kind": "gradient_boosting",
		"num_features": 1,
		"feature_names": ["income"],
		"base_margin": 0.25,
		"trees": [{
			"left": [1, -1, -1], "right": [2, -1, -1], "feature": [0, -1, -1],
			"threshold": [0, 0, 0], "value": [[0], [-0.5], [0.5]], "cover": [4, 2, 2]
		}]
	}`
	c, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if c.RunID() != "run-9" || c.Kind() != KindGradientBoosting || c.NumFeatures() != 1 {
		t.Errorf("unexpected header: %s %s %d", c.RunID(), c.Kind(), c.NumFeatures())
	}
	if c.FeatureNames()[0] != "income" {
		t.Errorf("unexpected feature names %v", c.FeatureNames())
	}

	raw, _ := c.(TreeEnsemble).RawOutput([]float64{1})
	if raw != 0.75 {
		t.Errorf("expected margin 0.75, got %f", raw)
	}

	if _, err := Decode(strings.NewReader(`{"kind": "gradient_boosting", "weights": []}`)); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestSigmoidStable(t *testing.T) {
	if p := Sigmoid(-1000); p != 0 || math.IsNaN(p) {
		t.Errorf("expected 0 for large negative margin, got %v", p)
	}
	if p := Sigmoid(1000); p != 1 {
		t.Errorf("expected 1 for large positive margin, got %v", p)
	}
	if Sigmoid(0) != 0.5 {
		t.Errorf("expected 0.5 at zero margin")
	}
}
