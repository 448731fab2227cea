package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrArtifactNotFound means a preprocessor, classifier or manifest file
	// could not be located or decoded. Operators must train and export
	// artifacts first; the condition is never retried.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrArtifactMismatch means artifacts from different training runs were
	// paired, or a checksum did not match the manifest.
	ErrArtifactMismatch = errors.New("artifact version mismatch")

	// ErrSchemaMismatch means the engineered record, preprocessor and
	// classifier disagree on columns.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrAttribution is returned when an attribution strategy fails.
	ErrAttribution = errors.New("attribution computation failed")

	// ErrUnsupportedModel is returned by the exact tree strategy for
	// classifiers without tree structure.
	ErrUnsupportedModel = errors.New("unsupported model type")

	// ErrNoReference is returned when an operation needs the optional
	// reference population and none was exported.
	ErrNoReference = errors.New("reference population not available")
)

// ValidationError is a rejection of applicant input by a domain rule.
type ValidationError struct {
	Rule    string `json:"rule"`
	Message string `json:"error"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Pipeline stages reported by PipelineError.
const (
	StageArtifacts  = "artifacts"
	StagePreprocess = "preprocess"
	StageClassify   = "classify"
)

// PipelineError is a fatal, non-retryable failure of the inference pipeline.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError wraps err with the failing stage.
func NewPipelineError(stage string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Err: err}
}
