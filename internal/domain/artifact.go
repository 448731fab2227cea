package domain

import "time"

// Artifact names listed in a manifest.
const (
	ArtifactPreprocessor = "preprocessor"
	ArtifactClassifier   = "classifier"
	ArtifactReference    = "reference"
)

// Manifest pairs the artifacts exported by one training run.
// Every artifact file carries the same RunID; a mismatch means the
// preprocessor and classifier came from different runs.
type Manifest struct {
	Version   string                  `json:"version"`
	RunID     string                  `json:"run_id"`
	CreatedAt time.Time               `json:"created_at"`
	Files     map[string]ArtifactFile `json:"files"`
}

// ArtifactFile locates one artifact relative to the manifest.
type ArtifactFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

// ReferencePopulation is a fixed sample of processed feature vectors used
// for attribution baselines and global importance.
type ReferencePopulation struct {
	RunID        string      `json:"run_id"`
	FeatureNames []string    `json:"feature_names"`
	Rows         [][]float64 `json:"rows"`
}

// Len returns the number of reference rows.
func (p *ReferencePopulation) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Rows)
}

// ModelVersion is a registry record of a manifest that was served.
type ModelVersion struct {
	Version        string    `json:"version"`
	RunID          string    `json:"runId"`
	ClassifierKind string    `json:"classifierKind"`
	NumFeatures    int       `json:"numFeatures"`
	FeatureNames   []string  `json:"featureNames"`
	HasReference   bool      `json:"hasReference"`
	CreatedAt      time.Time `json:"createdAt"`
	LoadedAt       time.Time `json:"loadedAt"`
}
