package domain

import "time"

// ExplanationOutcome reports which attribution attempt produced the result.
type ExplanationOutcome string

const (
	// OutcomePrimary means the strategy selected for the model succeeded:
	// exact tree attribution for tree ensembles, sampling otherwise.
	OutcomePrimary ExplanationOutcome = "primary"

	// OutcomeFellBack means exact tree attribution failed and the sampling
	// fallback produced the attribution.
	OutcomeFellBack ExplanationOutcome = "fell_back"

	// OutcomeUnavailable means every strategy failed; the prediction is
	// still delivered without attribution.
	OutcomeUnavailable ExplanationOutcome = "unavailable"

	// OutcomeSkipped means the caller did not ask for an explanation.
	OutcomeSkipped ExplanationOutcome = "skipped"
)

// Assessment is the complete response for one applicant.
// It is returned or published, never persisted.
type Assessment struct {
	ID          string             `json:"assessmentId"`
	Applicant   ApplicantRecord    `json:"applicant"`
	Engineered  EngineeredRecord   `json:"engineered"`
	Prediction  Prediction         `json:"prediction"`
	Attribution *AttributionSet    `json:"attribution,omitempty"`
	Explanation ExplanationOutcome `json:"explanation"`
	Warnings    []string           `json:"warnings,omitempty"`
	Rendered    string             `json:"rendered,omitempty"`
	Metadata    AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID      string    `json:"traceId,omitempty"`
	ModelVersion string    `json:"modelVersion"`
	Timestamp    time.Time `json:"timestamp"`
	InferenceMs  int64     `json:"inferenceMs"`
	ExplainMs    int64     `json:"explainMs"`
	TotalMs      int64     `json:"totalMs"`
}

// IsHighRisk returns true if the assessment carries a HIGH_RISK label.
func (a *Assessment) IsHighRisk() bool {
	return a.Prediction.Label == LabelHighRisk
}
