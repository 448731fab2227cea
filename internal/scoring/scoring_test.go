package scoring

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/artifact/artifacttest"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/preprocess"
)

func newEngine(t *testing.T, opts artifacttest.Options) *Engine {
	t.Helper()
	e, err := NewEngine(artifacttest.Bundle(t, opts))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

// constantBundle scores every applicant with probability sigmoid(margin).
func constantBundle(t *testing.T, margin float64) *artifact.Bundle {
	t.Helper()
	p, err := preprocess.New(artifacttest.PreprocessorSpec())
	if err != nil {
		t.Fatalf("preprocess.New failed: %v", err)
	}
	c, err := model.New(model.Spec{
		Kind:        model.KindLogisticRegression,
		NumFeatures: p.Width(),
		Coef:        make([]float64, p.Width()),
		Intercept:   margin,
	})
	if err != nil {
		t.Fatalf("model.New failed: %v", err)
	}
	return &artifact.Bundle{
		Manifest:     domain.Manifest{Version: "const", RunID: artifacttest.RunID},
		Preprocessor: p,
		Classifier:   c,
	}
}

func TestPredict(t *testing.T) {
	e := newEngine(t, artifacttest.Options{})
	ctx := context.Background()

	tests := []struct {
		name      string
		applicant domain.ApplicantRecord
		label     domain.RiskLabel
		want      float64
	}{
		{"LowRisk", artifacttest.LowRisk(), domain.LabelLowRisk, model.Sigmoid(-1.5)},
		{"HighRisk", artifacttest.HighRisk(), domain.LabelHighRisk, model.Sigmoid(1.2)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scored, err := e.Predict(ctx, features.Engineer(tc.applicant))
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}
			p := scored.Prediction.Probability
			if p < 0 || p > 1 {
				t.Fatalf("probability %f outside [0, 1]", p)
			}
			if math.Abs(p-tc.want) > 1e-12 {
				t.Errorf("expected probability %f, got %f", tc.want, p)
			}
			if scored.Prediction.Label != tc.label {
				t.Errorf("expected %s, got %s", tc.label, scored.Prediction.Label)
			}
			if len(scored.Vector) != 12 {
				t.Errorf("expected 12 processed features, got %d", len(scored.Vector))
			}
		})
	}
}

func TestPredictIdempotent(t *testing.T) {
	for _, kind := range []model.Kind{model.KindGradientBoosting, model.KindRandomForest, model.KindLogisticRegression} {
		t.Run(string(kind), func(t *testing.T) {
			e := newEngine(t, artifacttest.Options{Kind: kind})
			rec := features.Engineer(artifacttest.LowRisk())

			first, err := e.Predict(context.Background(), rec)
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}
			second, _ := e.Predict(context.Background(), rec)

			if math.Float64bits(first.Prediction.Probability) != math.Float64bits(second.Prediction.Probability) {
				t.Errorf("probabilities differ: %v vs %v", first.Prediction.Probability, second.Prediction.Probability)
			}
			if first.Prediction.Label != second.Prediction.Label {
				t.Errorf("labels differ: %s vs %s", first.Prediction.Label, second.Prediction.Label)
			}
		})
	}
}

func TestDecisionBoundary(t *testing.T) {
	e, err := NewEngine(constantBundle(t, 0))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	scored, err := e.Predict(context.Background(), features.Engineer(artifacttest.LowRisk()))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if scored.Prediction.Probability != 0.5 {
		t.Fatalf("expected probability exactly 0.5, got %v", scored.Prediction.Probability)
	}
	if scored.Prediction.Label != domain.LabelLowRisk {
		t.Errorf("expected LOW_RISK at 0.5, got %s", scored.Prediction.Label)
	}

	if got := domain.LabelFor(math.Nextafter(0.5, 1)); got != domain.LabelHighRisk {
		t.Errorf("expected HIGH_RISK just above 0.5, got %s", got)
	}
}

func TestPredictSchemaMismatch(t *testing.T) {
	e := newEngine(t, artifacttest.Options{})

	rec := artifacttest.LowRisk()
	rec.EmploymentType = "Contractor"

	_, err := e.Predict(context.Background(), features.Engineer(rec))

	var pErr *domain.PipelineError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if pErr.Stage != domain.StagePreprocess {
		t.Errorf("expected preprocess stage, got %s", pErr.Stage)
	}
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("NoBundle", func(t *testing.T) {
		_, err := NewEngine(nil)
		if !errors.Is(err, domain.ErrArtifactNotFound) {
			t.Errorf("expected ErrArtifactNotFound, got %v", err)
		}
	})

	t.Run("PreprocessorExpectsOtherColumns", func(t *testing.T) {
		spec := artifacttest.PreprocessorSpec()
		spec.InputColumns = append(spec.InputColumns, "zip_code")
		spec.Categorical = append(spec.Categorical, preprocess.CategoricalColumn{
			Name: "zip_code", Categories: []string{"10001"}, HandleUnknown: preprocess.HandleUnknownIgnore,
		})
		p, err := preprocess.New(spec)
		if err != nil {
			t.Fatalf("preprocess.New failed: %v", err)
		}
		b := constantBundle(t, 0)
		b.Preprocessor = p

		_, err = NewEngine(b)
		if !errors.Is(err, domain.ErrSchemaMismatch) {
			t.Errorf("expected ErrSchemaMismatch, got %v", err)
		}
	})
}
