package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/preprocess"
)

// DefaultManifest is the manifest file name inside an artifact directory.
const DefaultManifest = "manifest.json"

// Loader loads a bundle once and shares it. Concurrent cold callers wait
// on the same load; the first success is kept for the process lifetime
// and failures are not cached, so a later call retries.
type Loader struct {
	cfg   domain.ArtifactConfig
	group singleflight.Group

	mu     sync.RWMutex
	bundle *Bundle
}

// NewLoader creates a loader for cfg.
func NewLoader(cfg domain.ArtifactConfig) *Loader {
	if cfg.Manifest == "" {
		cfg.Manifest = DefaultManifest
	}
	return &Loader{cfg: cfg}
}

// Load returns the shared bundle, loading it on first use.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	if b := l.Loaded(); b != nil {
		return b, nil
	}

	ch := l.group.DoChan("bundle", func() (any, error) {
		if b := l.Loaded(); b != nil {
			return b, nil
		}
		b, err := Load(l.cfg.Dir, l.cfg.Manifest, l.cfg.VerifyChecksums)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.bundle = b
		l.mu.Unlock()
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	}
}

// Loaded returns the bundle if a load has succeeded, or nil.
func (l *Loader) Loaded() *Bundle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bundle
}

// Load reads and cross-checks every artifact listed in the manifest.
func Load(dir, manifestName string, verify bool) (*Bundle, error) {
	start := time.Now()
	if manifestName == "" {
		manifestName = DefaultManifest
	}

	raw, err := readFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var manifest domain.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: failed to decode manifest: %v", domain.ErrArtifactNotFound, err)
	}
	if manifest.RunID == "" {
		return nil, fmt.Errorf("%w: manifest has no run_id", domain.ErrArtifactMismatch)
	}

	b := &Bundle{Manifest: manifest, Dir: dir}

	data, err := readArtifact(dir, manifest, domain.ArtifactPreprocessor, verify)
	if err != nil {
		return nil, err
	}
	b.Preprocessor, err = preprocess.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactNotFound, err)
	}
	if err := checkRun(domain.ArtifactPreprocessor, b.Preprocessor.RunID(), manifest.RunID); err != nil {
		return nil, err
	}

	data, err = readArtifact(dir, manifest, domain.ArtifactClassifier, verify)
	if err != nil {
		return nil, err
	}
	b.Classifier, err = model.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactNotFound, err)
	}
	if err := checkRun(domain.ArtifactClassifier, b.Classifier.RunID(), manifest.RunID); err != nil {
		return nil, err
	}

	if err := checkWidth(b.Preprocessor, b.Classifier); err != nil {
		return nil, err
	}

	if _, ok := manifest.Files[domain.ArtifactReference]; ok {
		data, err = readArtifact(dir, manifest, domain.ArtifactReference, verify)
		if err != nil {
			return nil, err
		}
		var ref domain.ReferencePopulation
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, fmt.Errorf("%w: failed to decode reference population: %v", domain.ErrArtifactNotFound, err)
		}
		if err := checkRun(domain.ArtifactReference, ref.RunID, manifest.RunID); err != nil {
			return nil, err
		}
		if err := checkReference(&ref, b.Preprocessor); err != nil {
			return nil, err
		}
		b.Reference = &ref
	}

	b.LoadedAt = time.Now().UTC()

	slog.Info("artifacts loaded",
		"dir", dir,
		"version", manifest.Version,
		"run_id", manifest.RunID,
		"classifier", b.Classifier.Kind(),
		"features", b.Classifier.NumFeatures(),
		"reference_rows", b.Reference.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return b, nil
}

func readArtifact(dir string, manifest domain.Manifest, name string, verify bool) ([]byte, error) {
	f, ok := manifest.Files[name]
	if !ok || f.Path == "" {
		return nil, fmt.Errorf("%w: manifest lists no %s: train and export artifacts first", domain.ErrArtifactNotFound, name)
	}
	if !filepath.IsLocal(f.Path) {
		return nil, fmt.Errorf("%w: %s path %q leaves the artifact directory", domain.ErrArtifactMismatch, name, f.Path)
	}

	data, err := readFile(filepath.Join(dir, f.Path))
	if err != nil {
		return nil, err
	}

	if verify && f.SHA256 != "" {
		if sum := Checksum(data); sum != f.SHA256 {
			return nil, fmt.Errorf("%w: %s checksum %s does not match manifest %s", domain.ErrArtifactMismatch, name, sum, f.SHA256)
		}
	}
	return data, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: train and export artifacts first", domain.ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactNotFound, err)
	}
	return data, nil
}

func checkRun(name, got, want string) error {
	if got != want {
		return fmt.Errorf("%w: %s is from run %q, manifest is run %q", domain.ErrArtifactMismatch, name, got, want)
	}
	return nil
}

func checkWidth(p *preprocess.Preprocessor, c model.Classifier) error {
	if p.Width() != c.NumFeatures() {
		return fmt.Errorf("%w: preprocessor produces %d features, classifier expects %d",
			domain.ErrSchemaMismatch, p.Width(), c.NumFeatures())
	}
	names := c.FeatureNames()
	if len(names) == 0 {
		return nil
	}
	for i, name := range p.OutputNames() {
		if names[i] != name {
			return fmt.Errorf("%w: feature %d is %q in preprocessor, %q in classifier",
				domain.ErrSchemaMismatch, i, name, names[i])
		}
	}
	return nil
}

func checkReference(ref *domain.ReferencePopulation, p *preprocess.Preprocessor) error {
	names := p.OutputNames()
	if len(ref.FeatureNames) > 0 && len(ref.FeatureNames) != len(names) {
		return fmt.Errorf("%w: reference has %d features, preprocessor %d", domain.ErrSchemaMismatch, len(ref.FeatureNames), len(names))
	}
	for i, name := range ref.FeatureNames {
		if name != names[i] {
			return fmt.Errorf("%w: reference feature %d is %q, want %q", domain.ErrSchemaMismatch, i, name, names[i])
		}
	}
	for i, row := range ref.Rows {
		if len(row) != len(names) {
			return fmt.Errorf("%w: reference row %d has %d values, want %d", domain.ErrSchemaMismatch, i, len(row), len(names))
		}
	}
	return nil
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
