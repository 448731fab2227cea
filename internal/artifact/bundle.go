// Package artifact loads the versioned model artifacts exported by a
// training run and pairs them into an immutable Bundle.
package artifact

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/preprocess"
)

// Bundle is the frozen state every scoring request reads: a preprocessor,
// the classifier fitted alongside it, and the optional reference
// population. A Bundle is never mutated after loading.
type Bundle struct {
	Manifest     domain.Manifest
	Preprocessor *preprocess.Preprocessor
	Classifier   model.Classifier
	Reference    *domain.ReferencePopulation
	Dir          string
	LoadedAt     time.Time
}

// Version returns the model version from the manifest.
func (b *Bundle) Version() string {
	return b.Manifest.Version
}

// FeatureNames returns the processed feature names.
func (b *Bundle) FeatureNames() []string {
	return b.Preprocessor.OutputNames()
}

// Background returns the rows used by sampling attribution: the reference
// population, or the preprocessor's expected row when none was exported.
func (b *Bundle) Background() [][]float64 {
	if b.Reference.Len() > 0 {
		return b.Reference.Rows
	}
	return [][]float64{b.Preprocessor.ExpectedRow()}
}

// ModelVersion describes the bundle for the model registry.
func (b *Bundle) ModelVersion() *domain.ModelVersion {
	return &domain.ModelVersion{
		Version:        b.Manifest.Version,
		RunID:          b.Manifest.RunID,
		ClassifierKind: string(b.Classifier.Kind()),
		NumFeatures:    b.Classifier.NumFeatures(),
		FeatureNames:   b.FeatureNames(),
		HasReference:   b.Reference.Len() > 0,
		CreatedAt:      b.Manifest.CreatedAt,
		LoadedAt:       b.LoadedAt,
	}
}
