package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact/artifacttest"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluation"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// setup writes the sample artifacts and points the CLI at a scratch store.
func setup(t *testing.T) (artifacts, db string) {
	t.Helper()
	artifacts = artifacttest.Write(t, t.TempDir(), artifacttest.Options{}).Dir
	db = filepath.Join(t.TempDir(), "kestrel.db")
	t.Setenv("KESTREL_ARTIFACTS_DIR", artifacts)
	t.Setenv("KESTREL_DB_PATH", db)
	return artifacts, db
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "kestrel dev") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestScoreCommand(t *testing.T) {
	setup(t)

	t.Run("Table", func(t *testing.T) {
		out, err := execute(t, "score",
			"--income", "5000", "--loan-amount", "15000", "--duration", "36",
			"--age", "34", "--credit-score", "710", "--employment", "Salaried",
			"--explain=true", "--json=false")
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		for _, want := range []string{"LOW_RISK", "Default probability", "baseline", "employment_type"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("JSON", func(t *testing.T) {
		out, err := execute(t, "score",
			"--income", "2000", "--loan-amount", "60000", "--duration", "24",
			"--age", "23", "--credit-score", "520", "--previous-defaults", "2",
			"--employment", "Unemployed", "--explain=false", "--json")
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		var a domain.Assessment
		if err := json.Unmarshal([]byte(out), &a); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}
		if !a.IsHighRisk() || a.Explanation != domain.OutcomeSkipped {
			t.Errorf("unexpected assessment: %+v", a.Prediction)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		_, err := execute(t, "score",
			"--income", "5000", "--loan-amount", "15000", "--duration", "36",
			"--age", "34", "--credit-score", "200", "--previous-defaults", "0",
			"--json=false")
		if err == nil || !strings.Contains(err.Error(), domain.RuleCreditScoreRange) {
			t.Errorf("expected credit score rejection, got %v", err)
		}
	})
}

func TestScoreWithoutArtifacts(t *testing.T) {
	t.Setenv("KESTREL_ARTIFACTS_DIR", t.TempDir())

	_, err := execute(t, "score",
		"--income", "5000", "--loan-amount", "15000", "--duration", "36",
		"--age", "34", "--credit-score", "710")
	if err == nil || !strings.Contains(err.Error(), "failed to load artifacts") {
		t.Errorf("expected artifact error, got %v", err)
	}
}

func TestImportanceCommand(t *testing.T) {
	_, db := setup(t)

	out, err := execute(t, "importance", "--top", "3", "--store")
	if err != nil {
		t.Fatalf("importance failed: %v", err)
	}
	if !strings.Contains(out, "Global importance") || !strings.Contains(out, " 3 ") {
		t.Errorf("unexpected output:\n%s", out)
	}

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: db})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	defer repo.Close()

	gi, err := repo.GetImportance(t.Context(), artifacttest.Version)
	if err != nil {
		t.Fatalf("importance not stored: %v", err)
	}
	if len(gi.Ranking) == 0 {
		t.Error("expected a stored ranking")
	}
	if _, err := repo.GetModelVersion(t.Context(), artifacttest.Version); err != nil {
		t.Errorf("model version not registered: %v", err)
	}
}

func TestEvaluateCommand(t *testing.T) {
	setup(t)

	csv := writeFile(t, "holdout.csv", strings.Join([]string{
		"income,loan_amount,loan_duration_months,age,employment_type,credit_score,previous_defaults,default",
		"5000,15000,36,34,Salaried,710,0,0",
		"2000,60000,24,23,Unemployed,520,2,1",
		"0,15000,36,34,Salaried,710,0,0",
	}, "\n"))

	out, err := execute(t, "evaluate", "--csv", csv, "--json")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	var r evaluation.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("invalid JSON report: %v", err)
	}
	if r.Scored != 2 || r.Rejected != 1 || r.AUC != 1 {
		t.Errorf("unexpected report: %+v", r)
	}

	if _, err := execute(t, "evaluate", "--csv", filepath.Join(t.TempDir(), "none.csv")); err == nil {
		t.Error("expected error for missing CSV")
	}
}

func TestManifestCommand(t *testing.T) {
	dir, _ := setup(t)
	if err := os.Remove(filepath.Join(dir, "manifest.json")); err != nil {
		t.Fatalf("failed to remove manifest: %v", err)
	}

	out, err := execute(t, "manifest", "--model-version", "v2")
	if err != nil {
		t.Fatalf("manifest failed: %v", err)
	}
	if !strings.Contains(out, "v2") || !strings.Contains(out, artifacttest.RunID) {
		t.Errorf("unexpected output: %q", out)
	}

	// The regenerated manifest loads.
	if _, err := execute(t, "score",
		"--income", "5000", "--loan-amount", "15000", "--duration", "36",
		"--age", "34", "--credit-score", "710", "--json"); err != nil {
		t.Errorf("score with regenerated manifest failed: %v", err)
	}
}

func TestWarmImportance(t *testing.T) {
	gi := &domain.GlobalImportance{
		ModelVersion: artifacttest.Version,
		Ranking:      []domain.ImportanceEntry{{Feature: "credit_score", Score: 0.4}},
	}

	warmed, err := warmImportance(t.Context(), domain.CacheConfig{Type: "memory"}, gi, time.Minute)
	if err != nil || warmed {
		t.Errorf("expected in-process cache skipped, got warmed=%v err=%v", warmed, err)
	}

	// Any other cache type is built and written to.
	warmed, err = warmImportance(t.Context(), domain.CacheConfig{Type: "memcached"}, gi, time.Minute)
	if err == nil || warmed {
		t.Errorf("expected shared cache attempt to fail for unsupported type, got warmed=%v err=%v", warmed, err)
	}
}
