// Package assess runs the full applicant pipeline: validation, feature
// engineering, scoring and explanation.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/validation"
)

var tracer = otel.Tracer("kestrel-assess")

// Warnings attached to an assessment.
const (
	WarnFellBack    = "exact attribution failed; contributions are a sampled approximation"
	WarnUnavailable = "explanation unavailable; prediction returned without attribution"
)

// Options control one assessment.
type Options struct {
	// Explain requests an attribution. Explanation failures never fail
	// the assessment.
	Explain bool

	// TraceID is copied into the assessment metadata.
	TraceID string

	// ID replaces the generated assessment id. The async path uses it to
	// keep the id returned on submission.
	ID string
}

// Service is the assessment pipeline over one artifact bundle.
type Service struct {
	validator *validation.Validator
	engine    *scoring.Engine
	explainer *explain.Explainer
	metrics   *metrics.Metrics
	cfg       domain.ExplainConfig
}

// New assembles a service from its parts. explainer and m may be nil.
func New(v *validation.Validator, e *scoring.Engine, x *explain.Explainer, m *metrics.Metrics, cfg domain.ExplainConfig) *Service {
	return &Service{
		validator: v,
		engine:    e,
		explainer: x,
		metrics:   m,
		cfg:       cfg,
	}
}

// NewFromBundle builds the validator, engine and explainer for b.
// An explainer that cannot be built is logged and disabled; scoring does
// not depend on it.
func NewFromBundle(b *artifact.Bundle, cfg domain.ExplainConfig, m *metrics.Metrics) (*Service, error) {
	v, err := validation.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	e, err := scoring.NewEngine(b)
	if err != nil {
		return nil, err
	}

	var x *explain.Explainer
	if cfg.Enabled {
		x, err = explain.New(b.Classifier, b.FeatureNames(), b.Background(), explain.Config{
			Sampling: explain.SamplingConfig{
				Permutations: cfg.Permutations,
				Seed:         cfg.Seed,
			},
		})
		if err != nil {
			slog.Warn("explainer disabled", "error", err)
			x = nil
		}
	}

	return New(v, e, x, m, cfg), nil
}

// Bundle returns the artifacts the service scores with.
func (s *Service) Bundle() *artifact.Bundle {
	return s.engine.Bundle()
}

// Rules returns the validation rules in evaluation order.
func (s *Service) Rules() []domain.ValidationRule {
	return s.validator.Rules()
}

// Validate checks rec without scoring it. A rejection is returned as a
// *domain.ValidationError.
func (s *Service) Validate(rec domain.ApplicantRecord) error {
	verdict, err := s.validator.Validate(rec)
	if err != nil {
		return err
	}
	if err := verdict.Err(); err != nil {
		s.countRejection(verdict.Rule)
		return err
	}
	return nil
}

// Assess runs the pipeline for one applicant. A rejected applicant yields
// a *domain.ValidationError and never reaches the classifier; pipeline
// faults yield a *domain.PipelineError.
func (s *Service) Assess(ctx context.Context, rec domain.ApplicantRecord, opts Options) (*domain.Assessment, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "assess.Assess")
	defer span.End()

	if err := s.Validate(rec); err != nil {
		span.SetAttributes(attribute.String("assessment.outcome", "rejected"))
		return nil, err
	}
	s.observe("validate", start)

	engineered := features.Engineer(rec)

	inferStart := time.Now()
	scored, err := s.engine.Predict(ctx, engineered)
	if err != nil {
		span.RecordError(err)
		s.countOutcome("error")
		return nil, err
	}
	inferMs := time.Since(inferStart).Milliseconds()
	s.observe("predict", inferStart)

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	a := &domain.Assessment{
		ID:          id,
		Applicant:   rec,
		Engineered:  engineered,
		Prediction:  scored.Prediction,
		Explanation: domain.OutcomeSkipped,
	}

	explainStart := time.Now()
	if opts.Explain && s.explainer != nil {
		s.attachExplanation(ctx, a, scored.Vector)
		s.observe("explain", explainStart)
	} else if opts.Explain {
		a.Explanation = domain.OutcomeUnavailable
		a.Warnings = append(a.Warnings, WarnUnavailable)
	}
	if s.metrics != nil {
		s.metrics.Explanations.WithLabelValues(string(a.Explanation)).Inc()
		s.metrics.Probability.Observe(a.Prediction.Probability)
	}

	a.Metadata = domain.AssessmentMetadata{
		TraceID:      opts.TraceID,
		ModelVersion: s.Bundle().Version(),
		Timestamp:    time.Now().UTC(),
		InferenceMs:  inferMs,
		ExplainMs:    time.Since(explainStart).Milliseconds(),
		TotalMs:      time.Since(start).Milliseconds(),
	}

	if a.IsHighRisk() {
		s.countOutcome("high_risk")
	} else {
		s.countOutcome("low_risk")
	}

	span.SetAttributes(
		attribute.String("assessment.id", a.ID),
		attribute.String("assessment.label", string(a.Prediction.Label)),
		attribute.String("assessment.explanation", string(a.Explanation)),
	)

	slog.Debug("applicant assessed",
		"assessment_id", a.ID,
		"probability", a.Prediction.Probability,
		"label", a.Prediction.Label,
		"explanation", a.Explanation,
		"total_ms", a.Metadata.TotalMs,
	)

	return a, nil
}

func (s *Service) attachExplanation(ctx context.Context, a *domain.Assessment, vec []float64) {
	ctx, span := tracer.Start(ctx, "assess.Explain")
	defer span.End()

	res := s.explainer.Explain(ctx, vec)
	a.Explanation = res.Outcome
	span.SetAttributes(attribute.String("explanation.outcome", string(res.Outcome)))

	switch res.Outcome {
	case domain.OutcomeFellBack:
		a.Warnings = append(a.Warnings, WarnFellBack)
	case domain.OutcomeUnavailable:
		span.RecordError(res.Err(), trace.WithAttributes(attribute.String("assessment.id", a.ID)))
		slog.Warn("explanation unavailable",
			"assessment_id", a.ID,
			"error", res.Err(),
		)
		a.Warnings = append(a.Warnings, WarnUnavailable)
		return
	}

	a.Attribution = res.Attribution
	grouped := res.Attribution.Grouped(s.Bundle().Preprocessor.Groups())
	a.Rendered = explain.Render(grouped, s.cfg.MaxDisplay, explain.FormatText)
}

// BatchItem is the result for one applicant of a batch.
type BatchItem struct {
	Assessment *domain.Assessment
	Err        error
}

// AssessBatch assesses every applicant independently; one failure does
// not affect the others.
func (s *Service) AssessBatch(ctx context.Context, recs []domain.ApplicantRecord, opts Options) []BatchItem {
	items := make([]BatchItem, len(recs))
	for i, rec := range recs {
		a, err := s.Assess(ctx, rec, opts)
		items[i] = BatchItem{Assessment: a, Err: err}
	}
	return items
}

// Importance computes the global feature ranking over the bundle's
// reference population. Without one it returns domain.ErrNoReference.
func (s *Service) Importance(ctx context.Context) (*domain.GlobalImportance, error) {
	if s.explainer == nil {
		return nil, fmt.Errorf("%w: explanations are disabled", domain.ErrAttribution)
	}
	gi, err := s.explainer.GlobalImportance(ctx, s.Bundle().Reference, s.cfg.ImportanceWorkers)
	if err != nil {
		return nil, err
	}
	gi.ModelVersion = s.Bundle().Version()
	return gi, nil
}

func (s *Service) observe(stage string, since time.Time) {
	if s.metrics != nil {
		s.metrics.StageLatency.WithLabelValues(stage).Observe(time.Since(since).Seconds())
	}
}

func (s *Service) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.Assessments.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countRejection(rule string) {
	if s.metrics != nil {
		s.metrics.Rejections.WithLabelValues(rule).Inc()
		s.metrics.Assessments.WithLabelValues("rejected").Inc()
	}
}

// IsRejection reports whether err is a validation rejection.
func IsRejection(err error) bool {
	var vErr *domain.ValidationError
	return errors.As(err, &vErr)
}
