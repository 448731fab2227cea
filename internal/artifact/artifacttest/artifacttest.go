// Package artifacttest writes small but complete artifact directories for
// tests of packages that load a model bundle.
package artifacttest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/preprocess"
)

// RunID and Version of the written bundle.
const (
	RunID   = "run-test"
	Version = "v-test"
)

// Options changes the written bundle.
type Options struct {
	// Kind selects the classifier; gradient boosting by default.
	Kind model.Kind

	// NoReference omits the reference population.
	NoReference bool

	// ClassifierRunID overrides the classifier's run id.
	ClassifierRunID string
}

// LowRisk is the reference scenario applicant.
func LowRisk() domain.ApplicantRecord {
	return domain.ApplicantRecord{
		Income:             5000,
		LoanAmount:         15000,
		LoanDurationMonths: 36,
		Age:                34,
		EmploymentType:     domain.EmploymentSalaried,
		CreditScore:        710,
		PreviousDefaults:   0,
	}
}

// HighRisk scores above the decision threshold with the sample model.
func HighRisk() domain.ApplicantRecord {
	return domain.ApplicantRecord{
		Income:             2000,
		LoanAmount:         60000,
		LoanDurationMonths: 24,
		Age:                23,
		EmploymentType:     domain.EmploymentUnemployed,
		CreditScore:        520,
		PreviousDefaults:   2,
	}
}

// PreprocessorSpec is the fitted transform of the sample bundle. Output
// columns: eight scaled numerics followed by four employment one-hots.
func PreprocessorSpec() preprocess.Spec {
	return preprocess.Spec{
		RunID:        RunID,
		InputColumns: (domain.EngineeredRecord{}).FieldNames(),
		Numeric: []preprocess.NumericColumn{
			{Name: domain.FieldIncome, Mean: 4200, Scale: 1800},
			{Name: domain.FieldLoanAmount, Mean: 18000, Scale: 12000},
			{Name: domain.FieldLoanDurationMonths, Mean: 36, Scale: 14},
			{Name: domain.FieldCreditScore, Mean: 650, Scale: 50},
			{Name: domain.FieldAge, Mean: 41, Scale: 12},
			{Name: domain.FieldPreviousDefaults, Mean: 0.5, Scale: 0.5},
			{Name: domain.FieldDebtToIncome, Mean: 2, Scale: 1},
			{Name: domain.FieldMonthlyPayment, Mean: 500, Scale: 250},
		},
		Categorical: []preprocess.CategoricalColumn{
			{
				Name:          domain.FieldEmploymentType,
				Categories:    []string{"Other", "Salaried", "Self-employed", "Unemployed"},
				HandleUnknown: preprocess.HandleUnknownError,
				Frequencies:   []float64{0.1, 0.55, 0.25, 0.1},
			},
		},
	}
}

// ClassifierSpec returns the sample classifier of the given kind.
func ClassifierSpec(kind model.Kind) model.Spec {
	p, _ := preprocess.New(PreprocessorSpec())
	spec := model.Spec{
		RunID:        RunID,
		Kind:         kind,
		NumFeatures:  p.Width(),
		FeatureNames: p.OutputNames(),
	}

	switch kind {
	case model.KindLogisticRegression:
		spec.Coef = []float64{-0.3, 0.2, 0.1, -1.1, -0.2, 0.9, 0.6, 0.1, 0, -0.4, 0, 0.8}
		spec.Intercept = -0.8
	case model.KindRandomForest:
		spec.PositiveClass = 1
		spec.Trees = []*model.Tree{
			split(3, 0, []float64{30, 30}, []float64{10, 20}, []float64{20, 10}, 30, 30),
			split(6, 1.5, []float64{35, 25}, []float64{30, 10}, []float64{5, 15}, 40, 20),
		}
	default:
		spec.Kind = model.KindGradientBoosting
		spec.SplitRule = model.SplitLess
		spec.BaseMargin = -0.5
		spec.Trees = []*model.Tree{
			// credit_score below the mean, then previous_defaults
			{
				Left:      []int{1, 3, -1, -1, -1},
				Right:     []int{2, 4, -1, -1, -1},
				Feature:   []int{3, 5, -1, -1, -1},
				Threshold: []float64{0, 0, 0, 0, 0},
				Value:     [][]float64{{0}, {0}, {-0.6}, {0.3}, {0.9}},
				Cover:     []float64{100, 45, 55, 30, 15},
			},
			// debt_to_income, then unemployment
			{
				Left:      []int{1, -1, 3, -1, -1},
				Right:     []int{2, -1, 4, -1, -1},
				Feature:   []int{6, -1, 11, -1, -1},
				Threshold: []float64{1.5, 0, 0.5, 0, 0},
				Value:     [][]float64{{0}, {-0.4}, {0}, {0.2}, {0.8}},
				Cover:     []float64{100, 70, 30, 24, 6},
			},
		}
	}
	return spec
}

func split(feature int, threshold float64, root, left, right []float64, coverLeft, coverRight float64) *model.Tree {
	return &model.Tree{
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Feature:   []int{feature, -1, -1},
		Threshold: []float64{threshold, 0, 0},
		Value:     [][]float64{root, left, right},
		Cover:     []float64{coverLeft + coverRight, coverLeft, coverRight},
	}
}

// Reference returns a small reference population processed by the sample
// preprocessor.
func Reference() *domain.ReferencePopulation {
	p, _ := preprocess.New(PreprocessorSpec())
	apps := []domain.ApplicantRecord{LowRisk(), HighRisk()}
	for i, emp := range domain.EmploymentTypes() {
		apps = append(apps, domain.ApplicantRecord{
			Income:             3000 + float64(i)*900,
			LoanAmount:         8000 + float64(i)*7000,
			LoanDurationMonths: 12 + i*12,
			Age:                25 + i*9,
			EmploymentType:     emp,
			CreditScore:        560 + i*70,
			PreviousDefaults:   i % 2,
		})
	}

	ref := &domain.ReferencePopulation{RunID: RunID, FeatureNames: p.OutputNames()}
	for _, rec := range features.EngineerBatch(apps) {
		row, _ := p.Transform(rec)
		ref.Rows = append(ref.Rows, row)
	}
	return ref
}

// Write exports the sample bundle into dir and returns the artifact
// configuration pointing at it.
func Write(t testing.TB, dir string, opts Options) domain.ArtifactConfig {
	t.Helper()

	clf := ClassifierSpec(opts.Kind)
	if opts.ClassifierRunID != "" {
		clf.RunID = opts.ClassifierRunID
	}

	writeJSON(t, filepath.Join(dir, artifact.DefaultFiles[domain.ArtifactPreprocessor]), PreprocessorSpec())
	writeJSON(t, filepath.Join(dir, artifact.DefaultFiles[domain.ArtifactClassifier]), clf)
	if !opts.NoReference {
		writeJSON(t, filepath.Join(dir, artifact.DefaultFiles[domain.ArtifactReference]), Reference())
	}

	// The manifest takes its run id from the classifier; re-stamp it so a
	// skewed classifier is detected by the loader rather than here.
	m := domain.Manifest{
		Version: Version,
		RunID:   RunID,
		Files:   make(map[string]domain.ArtifactFile),
	}
	for name, path := range artifact.DefaultFiles {
		data, err := os.ReadFile(filepath.Join(dir, path))
		if err != nil {
			continue
		}
		m.Files[name] = domain.ArtifactFile{Path: path, SHA256: artifact.Checksum(data)}
	}
	writeJSON(t, filepath.Join(dir, artifact.DefaultManifest), m)

	return domain.ArtifactConfig{
		Dir:             dir,
		Manifest:        artifact.DefaultManifest,
		VerifyChecksums: true,
	}
}

// Bundle writes the sample bundle to a temporary directory and loads it.
func Bundle(t testing.TB, opts Options) *artifact.Bundle {
	t.Helper()
	cfg := Write(t, t.TempDir(), opts)
	b, err := artifact.Load(cfg.Dir, cfg.Manifest, cfg.VerifyChecksums)
	if err != nil {
		t.Fatalf("failed to load sample bundle: %v", err)
	}
	return b
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("failed to encode %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
