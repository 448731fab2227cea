// Package scoring applies the frozen preprocessor and classifier to an
// engineered record and turns the probability into a risk decision.
package scoring

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-scoring")

// Scored is the result of one forward pass.
type Scored struct {
	// Vector is the processed feature vector the classifier saw.
	Vector     []float64
	Prediction domain.Prediction
}

// Engine scores engineered records against one artifact bundle.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	bundle *artifact.Bundle
}

// NewEngine binds an engine to b. A preprocessor that does not accept
// engineered records is rejected here instead of on the first request.
func NewEngine(b *artifact.Bundle) (*Engine, error) {
	if b == nil {
		return nil, domain.NewPipelineError(domain.StageArtifacts,
			fmt.Errorf("%w: no bundle loaded: train and export artifacts first", domain.ErrArtifactNotFound))
	}
	if err := b.Preprocessor.CheckSchema((domain.EngineeredRecord{}).FieldNames()); err != nil {
		return nil, domain.NewPipelineError(domain.StagePreprocess, err)
	}
	return &Engine{bundle: b}, nil
}

// Bundle returns the artifacts the engine scores with.
func (e *Engine) Bundle() *artifact.Bundle {
	return e.bundle
}

// Predict returns P(default) and the risk label for rec. Failures are
// *domain.PipelineError and are never retried.
func (e *Engine) Predict(ctx context.Context, rec domain.EngineeredRecord) (*Scored, error) {
	_, span := tracer.Start(ctx, "scoring.Predict",
		trace.WithAttributes(attribute.String("model.version", e.bundle.Version())),
	)
	defer span.End()

	vec, err := e.bundle.Preprocessor.Transform(rec)
	if err != nil {
		span.RecordError(err)
		return nil, domain.NewPipelineError(domain.StagePreprocess, err)
	}

	p, err := e.bundle.Classifier.PredictProba(vec)
	if err != nil {
		span.RecordError(err)
		return nil, domain.NewPipelineError(domain.StageClassify, err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		err := fmt.Errorf("classifier returned probability %v outside [0, 1]", p)
		span.RecordError(err)
		return nil, domain.NewPipelineError(domain.StageClassify, err)
	}

	pred := domain.NewPrediction(p)
	span.SetAttributes(
		attribute.Float64("prediction.probability", p),
		attribute.String("prediction.label", string(pred.Label)),
	)

	return &Scored{Vector: vec, Prediction: pred}, nil
}
