// Package worker assesses applications submitted on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ApplicationMessage is the payload published on
// domain.TopicApplicationSubmitted.
type ApplicationMessage struct {
	AssessmentID string                 `json:"assessmentId"`
	TraceID      string                 `json:"traceId,omitempty"`
	Explain      bool                   `json:"explain"`
	Applicant    domain.ApplicantRecord `json:"applicant"`
}

// RejectionEvent is published on domain.TopicAssessmentRejected.
type RejectionEvent struct {
	AssessmentID string `json:"assessmentId"`
	Rule         string `json:"rule"`
	Error        string `json:"error"`
}

// FailureEvent is published on domain.TopicAssessmentFailed when the
// pipeline cannot produce a prediction.
type FailureEvent struct {
	AssessmentID string `json:"assessmentId"`
	Stage        string `json:"stage"`
	Error        string `json:"error"`
}

// Worker consumes submitted applications and publishes exactly one terminal
// event per application: the assessment on TopicAssessmentCompleted (HIGH_RISK
// ones also on TopicAssessmentHighRisk), a validation rejection on
// TopicAssessmentRejected, or a pipeline fault on TopicAssessmentFailed.
type Worker struct {
	bus     domain.EventBus
	service *assess.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, s *assess.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     b,
		service: s,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to submitted applications.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicApplicationSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicApplicationSubmitted)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var app ApplicationMessage
	if err := json.Unmarshal(msg.Payload, &app); err != nil {
		slog.Error("failed to parse application message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if app.AssessmentID == "" {
		app.AssessmentID = msg.ID
	}
	if app.TraceID == "" {
		app.TraceID = msg.Metadata[bus.MetaTraceID]
	}
	return w.Process(ctx, app)
}

// Process assesses one application and publishes the outcome. Pipeline
// failures are published, logged and returned; they are never retried.
func (w *Worker) Process(ctx context.Context, app ApplicationMessage) error {
	start := time.Now()
	ctx = bus.WithMetadata(ctx, map[string]string{
		bus.MetaTraceID:      app.TraceID,
		bus.MetaAssessmentID: app.AssessmentID,
	})

	a, err := w.service.Assess(ctx, app.Applicant, assess.Options{
		Explain: app.Explain,
		TraceID: app.TraceID,
		ID:      app.AssessmentID,
	})

	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		slog.Info("application rejected",
			"assessment_id", app.AssessmentID,
			"rule", vErr.Rule,
		)
		return w.publish(ctx, domain.TopicAssessmentRejected, RejectionEvent{
			AssessmentID: app.AssessmentID,
			Rule:         vErr.Rule,
			Error:        vErr.Message,
		})
	case err != nil:
		stage := "assess"
		var pErr *domain.PipelineError
		if errors.As(err, &pErr) {
			stage = pErr.Stage
		}
		slog.Error("assessment failed",
			"assessment_id", app.AssessmentID,
			"trace_id", app.TraceID,
			"stage", stage,
			"error", err,
		)
		if pubErr := w.publish(ctx, domain.TopicAssessmentFailed, FailureEvent{
			AssessmentID: app.AssessmentID,
			Stage:        stage,
			Error:        err.Error(),
		}); pubErr != nil {
			return errors.Join(err, pubErr)
		}
		return err
	}

	if err := w.publish(ctx, domain.TopicAssessmentCompleted, a); err != nil {
		return err
	}
	if a.IsHighRisk() {
		if err := w.publish(ctx, domain.TopicAssessmentHighRisk, a); err != nil {
			return err
		}
	}

	slog.Info("application assessed",
		"assessment_id", a.ID,
		"trace_id", app.TraceID,
		"label", a.Prediction.Label,
		"probability", a.Prediction.Probability,
		"explanation", a.Explanation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
