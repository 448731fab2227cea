package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Default artifact file names written by the training export.
var DefaultFiles = map[string]string{
	domain.ArtifactPreprocessor: "preprocessor.json",
	domain.ArtifactClassifier:   "classifier.json",
	domain.ArtifactReference:    "reference.json",
}

// runHeader reads the run_id every artifact carries.
type runHeader struct {
	RunID string `json:"run_id"`
}

// WriteManifest checksums the exported artifacts in dir and writes a
// manifest for them. The run id is taken from the classifier and every
// other artifact must agree with it. A missing reference file is skipped.
func WriteManifest(dir, manifestName, version string) (*domain.Manifest, error) {
	if manifestName == "" {
		manifestName = DefaultManifest
	}
	if version == "" {
		return nil, fmt.Errorf("model version is required")
	}

	m := &domain.Manifest{
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]domain.ArtifactFile),
	}

	for _, name := range []string{domain.ArtifactClassifier, domain.ArtifactPreprocessor, domain.ArtifactReference} {
		path := DefaultFiles[name]
		data, err := os.ReadFile(filepath.Join(dir, path))
		if errors.Is(err, fs.ErrNotExist) && name == domain.ArtifactReference {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrArtifactNotFound, err)
		}

		var h runHeader
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("failed to read run_id of %s: %w", path, err)
		}
		if m.RunID == "" {
			m.RunID = h.RunID
		}
		if h.RunID == "" || h.RunID != m.RunID {
			return nil, fmt.Errorf("%w: %s is from run %q, classifier from run %q", domain.ErrArtifactMismatch, path, h.RunID, m.RunID)
		}

		m.Files[name] = domain.ArtifactFile{Path: path, SHA256: Checksum(data)}
	}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), out, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return m, nil
}
