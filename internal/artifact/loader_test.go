package artifact_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/artifact/artifacttest"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

func TestLoad(t *testing.T) {
	cfg := artifacttest.Write(t, t.TempDir(), artifacttest.Options{})

	b, err := artifact.Load(cfg.Dir, cfg.Manifest, true)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if b.Version() != artifacttest.Version {
		t.Errorf("expected version %s, got %s", artifacttest.Version, b.Version())
	}
	if b.Classifier.Kind() != model.KindGradientBoosting {
		t.Errorf("expected gradient boosting, got %s", b.Classifier.Kind())
	}
	if b.Reference.Len() == 0 {
		t.Error("expected a reference population")
	}
	if len(b.Background()) != b.Reference.Len() {
		t.Errorf("expected reference rows as background, got %d rows", len(b.Background()))
	}

	mv := b.ModelVersion()
	if mv.RunID != artifacttest.RunID || !mv.HasReference || mv.NumFeatures != 12 {
		t.Errorf("unexpected model version: %+v", mv)
	}
}

func TestLoadWithoutReference(t *testing.T) {
	b := artifacttest.Bundle(t, artifacttest.Options{NoReference: true})

	if b.Reference != nil {
		t.Fatal("expected no reference population")
	}
	bg := b.Background()
	if len(bg) != 1 || len(bg[0]) != 12 {
		t.Errorf("expected the expected row as background, got %v", bg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
		want  error
		msg   string
	}{
		{
			name:  "EmptyDirectory",
			setup: func(t *testing.T, dir string) {},
			want:  domain.ErrArtifactNotFound,
			msg:   "train and export artifacts first",
		},
		{
			name: "MissingClassifier",
			setup: func(t *testing.T, dir string) {
				artifacttest.Write(t, dir, artifacttest.Options{})
				os.Remove(filepath.Join(dir, "classifier.json"))
			},
			want: domain.ErrArtifactNotFound,
			msg:  "train and export artifacts first",
		},
		{
			name: "RunSkew",
			setup: func(t *testing.T, dir string) {
				artifacttest.Write(t, dir, artifacttest.Options{ClassifierRunID: "run-other"})
			},
			want: domain.ErrArtifactMismatch,
			msg:  "run-other",
		},
		{
			name: "ChecksumMismatch",
			setup: func(t *testing.T, dir string) {
				artifacttest.Write(t, dir, artifacttest.Options{})
				path := filepath.Join(dir, "preprocessor.json")
				data, _ := os.ReadFile(path)
				os.WriteFile(path, append(data, '\n'), 0o644)
			},
			want: domain.ErrArtifactMismatch,
			msg:  "checksum",
		},
		{
			name: "PathEscapesDirectory",
			setup: func(t *testing.T, dir string) {
				artifacttest.Write(t, dir, artifacttest.Options{})
				rewriteManifest(t, dir, func(m *domain.Manifest) {
					f := m.Files[domain.ArtifactClassifier]
					f.Path = "../classifier.json"
					m.Files[domain.ArtifactClassifier] = f
				})
			},
			want: domain.ErrArtifactMismatch,
		},
		{
			name: "WidthMismatch",
			setup: func(t *testing.T, dir string) {
				artifacttest.Write(t, dir, artifacttest.Options{})
				spec := artifacttest.ClassifierSpec(model.KindLogisticRegression)
				spec.NumFeatures = 11
				spec.FeatureNames = nil
				spec.Coef = spec.Coef[:11]
				data, _ := json.Marshal(spec)
				os.WriteFile(filepath.Join(dir, "classifier.json"), data, 0o644)
				rewriteManifest(t, dir, func(m *domain.Manifest) {
					f := m.Files[domain.ArtifactClassifier]
					f.SHA256 = artifact.Checksum(data)
					m.Files[domain.ArtifactClassifier] = f
				})
			},
			want: domain.ErrSchemaMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			tc.setup(t, dir)

			_, err := artifact.Load(dir, artifact.DefaultManifest, true)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.msg != "" && !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("expected %q in error, got %v", tc.msg, err)
			}
		})
	}
}

func TestLoadSkipsChecksumWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	artifacttest.Write(t, dir, artifacttest.Options{})
	path := filepath.Join(dir, "preprocessor.json")
	data, _ := os.ReadFile(path)
	os.WriteFile(path, append(data, '\n'), 0o644)

	if _, err := artifact.Load(dir, "", false); err != nil {
		t.Errorf("expected load without verification to succeed, got %v", err)
	}
}

func TestLoaderSharesBundle(t *testing.T) {
	cfg := artifacttest.Write(t, t.TempDir(), artifacttest.Options{})
	l := artifact.NewLoader(cfg)

	if l.Loaded() != nil {
		t.Fatal("expected no bundle before Load")
	}

	const callers = 16
	bundles := make([]*artifact.Bundle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := l.Load(context.Background())
			if err != nil {
				t.Errorf("Load failed: %v", err)
				return
			}
			bundles[i] = b
		}(i)
	}
	wg.Wait()

	for i, b := range bundles {
		if b != bundles[0] {
			t.Errorf("caller %d got a different bundle", i)
		}
	}
	if l.Loaded() != bundles[0] {
		t.Error("expected Loaded to return the shared bundle")
	}
}

func TestLoaderDoesNotCacheFailure(t *testing.T) {
	dir := t.TempDir()
	l := artifact.NewLoader(domain.ArtifactConfig{Dir: dir, VerifyChecksums: true})

	if _, err := l.Load(context.Background()); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}

	artifacttest.Write(t, dir, artifacttest.Options{})
	if _, err := l.Load(context.Background()); err != nil {
		t.Errorf("expected retry after export to succeed, got %v", err)
	}
}

func TestWriteManifest(t *testing.T) {
	dir := t.TempDir()
	artifacttest.Write(t, dir, artifacttest.Options{})
	os.Remove(filepath.Join(dir, artifact.DefaultManifest))

	m, err := artifact.WriteManifest(dir, "", "v2")
	if err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	if m.RunID != artifacttest.RunID || len(m.Files) != 3 {
		t.Errorf("unexpected manifest: %+v", m)
	}

	b, err := artifact.Load(dir, "", true)
	if err != nil {
		t.Fatalf("Load after WriteManifest failed: %v", err)
	}
	if b.Version() != "v2" {
		t.Errorf("expected version v2, got %s", b.Version())
	}

	t.Run("RunSkew", func(t *testing.T) {
		skewed := t.TempDir()
		artifacttest.Write(t, skewed, artifacttest.Options{ClassifierRunID: "run-other"})
		if _, err := artifact.WriteManifest(skewed, "", "v3"); !errors.Is(err, domain.ErrArtifactMismatch) {
			t.Errorf("expected ErrArtifactMismatch, got %v", err)
		}
	})
}

func rewriteManifest(t *testing.T, dir string, mutate func(*domain.Manifest)) {
	t.Helper()
	path := filepath.Join(dir, artifact.DefaultManifest)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	mutate(&m)
	data, _ = json.Marshal(m)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}
