package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// MaxBatchSize bounds the applicants accepted by POST /assessments/batch.
const MaxBatchSize = 1000

// Handler holds dependencies for API handlers.
type Handler struct {
	deps     Deps
	validate *validator.Validate
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.ImportanceTTL <= 0 {
		deps.ImportanceTTL = time.Hour
	}
	return &Handler{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ApplicantRequest is the request body of the assessment endpoints.
// Pointers distinguish a missing field from a zero value; range checks
// belong to the domain validator and answer 422.
type ApplicantRequest struct {
	Income             *float64 `json:"income" validate:"required"`
	LoanAmount         *float64 `json:"loan_amount" validate:"required"`
	LoanDurationMonths *int     `json:"loan_duration_months" validate:"required"`
	Age                *int     `json:"age" validate:"required"`
	EmploymentType     string   `json:"employment_type" validate:"required"`
	CreditScore        *int     `json:"credit_score" validate:"required"`
	PreviousDefaults   *int     `json:"previous_defaults" validate:"required"`
}

// Record converts a validated request into an applicant record.
func (r ApplicantRequest) Record() domain.ApplicantRecord {
	return domain.ApplicantRecord{
		Income:             *r.Income,
		LoanAmount:         *r.LoanAmount,
		LoanDurationMonths: *r.LoanDurationMonths,
		Age:                *r.Age,
		EmploymentType:     domain.EmploymentType(r.EmploymentType),
		CreditScore:        *r.CreditScore,
		PreviousDefaults:   *r.PreviousDefaults,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Rule  string `json:"rule,omitempty"`
}

// BatchResult is one entry of a batch response.
type BatchResult struct {
	Index      int                `json:"index"`
	Assessment *domain.Assessment `json:"assessment,omitempty"`
	Error      string             `json:"error,omitempty"`
	Rule       string             `json:"rule,omitempty"`
}

// AsyncResponse acknowledges an application queued for assessment.
type AsyncResponse struct {
	AssessmentID string `json:"assessmentId"`
	Status       string `json:"status"`
	Topic        string `json:"topic"`
}

// Assess handles POST /assessments.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	explain, ok := h.explainParam(w, r)
	if !ok {
		return
	}

	var req ApplicantRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body: " + err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	a, err := h.deps.Service.Assess(r.Context(), req.Record(), assess.Options{
		Explain: explain,
		TraceID: GetTraceID(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// AssessBatch handles POST /assessments/batch. Applicants are assessed
// independently and the response always has one entry per applicant.
func (h *Handler) AssessBatch(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	explain, ok := h.explainParam(w, r)
	if !ok {
		return
	}

	var reqs []ApplicantRequest
	if err := decodeBody(r, &reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body: expected an array of applicants: " + err.Error()})
		return
	}
	if len(reqs) == 0 || len(reqs) > MaxBatchSize {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("batch must hold between 1 and %d applicants", MaxBatchSize),
		})
		return
	}

	// Malformed entries are answered in place; the rest go through the
	// service as one batch.
	results := make([]BatchResult, len(reqs))
	recs := make([]domain.ApplicantRecord, 0, len(reqs))
	positions := make([]int, 0, len(reqs))
	for i, req := range reqs {
		results[i].Index = i
		if err := h.validate.Struct(req); err != nil {
			results[i].Error = err.Error()
			continue
		}
		recs = append(recs, req.Record())
		positions = append(positions, i)
	}

	items := h.deps.Service.AssessBatch(r.Context(), recs, assess.Options{
		Explain: explain,
		TraceID: GetTraceID(r.Context()),
	})
	for j, item := range items {
		res := &results[positions[j]]
		if item.Err != nil {
			res.Error = item.Err.Error()
			var vErr *domain.ValidationError
			if errors.As(item.Err, &vErr) {
				res.Rule = vErr.Rule
			}
			continue
		}
		res.Assessment = item.Assessment
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// AssessAsync handles POST /assessments/async. The applicant is validated
// synchronously, then queued; the worker publishes the outcome.
func (h *Handler) AssessAsync(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	if h.deps.Bus == nil || !h.deps.AsyncEnabled {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "async worker not running"})
		return
	}
	explain, ok := h.explainParam(w, r)
	if !ok {
		return
	}

	var req ApplicantRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body: " + err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rec := req.Record()
	if err := h.deps.Service.Validate(rec); err != nil {
		writeError(w, err)
		return
	}

	traceID := GetTraceID(r.Context())
	msg := worker.ApplicationMessage{
		AssessmentID: uuid.New().String(),
		TraceID:      traceID,
		Explain:      explain,
		Applicant:    rec,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := bus.WithMetadata(r.Context(), map[string]string{
		bus.MetaTraceID:      traceID,
		bus.MetaAssessmentID: msg.AssessmentID,
	})
	if err := h.deps.Bus.Publish(ctx, domain.TopicApplicationSubmitted, payload); err != nil {
		slog.Error("failed to queue application",
			"assessment_id", msg.AssessmentID,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "failed to queue application"})
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncResponse{
		AssessmentID: msg.AssessmentID,
		Status:       "queued",
		Topic:        domain.TopicAssessmentCompleted,
	})
}

// decodeBody decodes a JSON request body. Unknown keys are rejected so a
// misspelled field cannot be silently ignored.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// GetModel handles GET /model and describes the served artifacts.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	b := h.deps.Service.Bundle()
	writeJSON(w, http.StatusOK, map[string]any{
		"model":    b.ModelVersion(),
		"manifest": b.Manifest,
	})
}

// ListModels handles GET /models and returns the registry history.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "repository not available"})
		return
	}

	versions, err := h.deps.Repo.ListModelVersions(r.Context())
	if err != nil {
		slog.Error("failed to list model versions", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list model versions"})
		return
	}
	if versions == nil {
		versions = []*domain.ModelVersion{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models": versions,
		"count":  len(versions),
	})
}

// GetImportance handles GET /insights/importance. The ranking is read from
// the cache, then the repository; it is never computed on the request
// path. Without either the endpoint answers 404.
func (h *Handler) GetImportance(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	ctx := r.Context()
	version := h.deps.Service.Bundle().Version()

	if h.deps.Cache != nil {
		gi, err := h.deps.Cache.GetImportance(ctx, version)
		if err != nil {
			slog.Warn("importance cache read failed", "model_version", version, "error", err)
		}
		if gi != nil {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, gi)
			return
		}
	}

	if h.deps.Repo != nil {
		gi, err := h.deps.Repo.GetImportance(ctx, version)
		switch {
		case err == nil:
			if h.deps.Cache != nil {
				if err := h.deps.Cache.SetImportance(ctx, gi, h.deps.ImportanceTTL); err != nil {
					slog.Warn("importance cache write failed", "model_version", version, "error", err)
				}
			}
			w.Header().Set("X-Cache", "miss")
			writeJSON(w, http.StatusOK, gi)
			return
		case !errors.Is(err, repository.ErrNotFound):
			slog.Error("failed to read importance", "model_version", version, "error", err)
		}
	}

	writeJSON(w, http.StatusNotFound, errorResponse{
		Error: fmt.Sprintf("no importance ranking for model %s: run `kestrel importance` first", version),
	})
}

// ListRules handles GET /validation/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	rules := h.deps.Service.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// Health returns the health status of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	if h.deps.Repo != nil {
		check("repository", func() error { return h.deps.Repo.Ping(ctx) })
	}
	if h.deps.Cache != nil {
		check("cache", func() error { return h.deps.Cache.Ping(ctx) })
	}
	if h.deps.Bus != nil {
		check("bus", func() error { return h.deps.Bus.Ping(ctx) })
	}
	if h.deps.Service == nil {
		checks["artifacts"] = "not loaded"
		status = "degraded"
	} else {
		checks["artifacts"] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.deps.Version,
		"checks":  checks,
	})
}

// Ready reports whether artifacts are loaded and requests can be scored.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Service == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":        true,
		"modelVersion": h.deps.Service.Bundle().Version(),
	})
}

func (h *Handler) requireService(w http.ResponseWriter) bool {
	if h.deps.Service != nil {
		return true
	}
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{
		Error: "model artifacts not loaded: train and export artifacts first",
	})
	return false
}

// explainParam reads the optional explain query parameter, true by default.
func (h *Handler) explainParam(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("explain")
	if raw == "" {
		return true, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "explain must be true or false"})
		return false, false
	}
	return v, true
}

// writeError maps pipeline errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: vErr.Message, Rule: vErr.Rule})
	case errors.Is(err, domain.ErrArtifactNotFound):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		slog.Error("assessment failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
