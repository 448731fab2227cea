package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// openService loads the configured artifacts and builds the pipeline.
func openService(ctx context.Context, m *metrics.Metrics) (*assess.Service, error) {
	b, err := artifact.NewLoader(cfg.Artifacts).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts from %s: %w", cfg.Artifacts.Dir, err)
	}
	slog.Info("artifacts loaded",
		"version", b.Version(),
		"run_id", b.Manifest.RunID,
		"features", len(b.FeatureNames()),
	)
	return assess.NewFromBundle(b, cfg.Explain, m)
}

// registerModel records the loaded bundle in the model registry.
func registerModel(ctx context.Context, repo domain.Repository, s *assess.Service) error {
	mv := s.Bundle().ModelVersion()
	if err := repo.SaveModelVersion(ctx, mv); err != nil {
		return fmt.Errorf("failed to register model %s: %w", mv.Version, err)
	}
	return nil
}

// openRepository opens the configured store and logs the driver.
func openRepository() (domain.Repository, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	return repo, nil
}
