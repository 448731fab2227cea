// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		sb:     sb,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveModelVersion records a served manifest. Saving the same version
// again only refreshes its load time.
func (r *SQLRepository) SaveModelVersion(ctx context.Context, mv *domain.ModelVersion) error {
	if mv == nil || mv.Version == "" {
		return fmt.Errorf("%w: model version is required", ErrInvalidInput)
	}

	names, err := json.Marshal(mv.FeatureNames)
	if err != nil {
		return fmt.Errorf("failed to encode feature names: %w", err)
	}

	hasRef := 0
	if mv.HasReference {
		hasRef = 1
	}

	loadedAt := mv.LoadedAt
	if loadedAt.IsZero() {
		loadedAt = time.Now().UTC()
	}

	query, args, err := r.sb.Insert("model_versions").
		Columns("version", "run_id", "classifier_kind", "num_features",
			"feature_names", "has_reference", "created_at", "loaded_at").
		Values(mv.Version, mv.RunID, mv.ClassifierKind, mv.NumFeatures,
			string(names), hasRef, mv.CreatedAt.UTC(), loadedAt.UTC()).
		Suffix("ON CONFLICT(version) DO UPDATE SET loaded_at = excluded.loaded_at").
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

var modelVersionColumns = []string{
	"version", "run_id", "classifier_kind", "num_features",
	"feature_names", "has_reference", "created_at", "loaded_at",
}

// GetModelVersion retrieves a registry record by version.
func (r *SQLRepository) GetModelVersion(ctx context.Context, version string) (*domain.ModelVersion, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidInput)
	}

	query, args, err := r.sb.Select(modelVersionColumns...).
		From("model_versions").
		Where(sq.Eq{"version": version}).
		ToSql()
	if err != nil {
		return nil, err
	}

	mv, err := scanModelVersion(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return mv, err
}

// ListModelVersions returns every served version, most recently loaded first.
func (r *SQLRepository) ListModelVersions(ctx context.Context) ([]*domain.ModelVersion, error) {
	query, args, err := r.sb.Select(modelVersionColumns...).
		From("model_versions").
		OrderBy("loaded_at DESC", "version").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*domain.ModelVersion
	for rows.Next() {
		mv, err := scanModelVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, mv)
	}

	return versions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModelVersion(s scanner) (*domain.ModelVersion, error) {
	var mv domain.ModelVersion
	var names string
	var hasRef int

	if err := s.Scan(
		&mv.Version, &mv.RunID, &mv.ClassifierKind, &mv.NumFeatures,
		&names, &hasRef, &mv.CreatedAt, &mv.LoadedAt,
	); err != nil {
		return nil, err
	}

	mv.HasReference = hasRef == 1
	if err := json.Unmarshal([]byte(names), &mv.FeatureNames); err != nil {
		return nil, fmt.Errorf("failed to parse feature names for %s: %w", mv.Version, err)
	}
	return &mv, nil
}

// SaveImportance stores the ranking for a model version, replacing any
// earlier one.
func (r *SQLRepository) SaveImportance(ctx context.Context, gi *domain.GlobalImportance) error {
	if gi == nil || gi.ModelVersion == "" {
		return fmt.Errorf("%w: model version is required", ErrInvalidInput)
	}

	ranking, err := json.Marshal(gi.Ranking)
	if err != nil {
		return fmt.Errorf("failed to encode ranking: %w", err)
	}

	query, args, err := r.sb.Insert("importance").
		Columns("model_version", "method", "sample_size", "ranking", "computed_at").
		Values(gi.ModelVersion, string(gi.Method), gi.SampleSize, string(ranking), gi.ComputedAt.UTC()).
		Suffix(`ON CONFLICT(model_version) DO UPDATE SET
			method = excluded.method,
			sample_size = excluded.sample_size,
			ranking = excluded.ranking,
			computed_at = excluded.computed_at`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// GetImportance retrieves the stored ranking for a model version.
func (r *SQLRepository) GetImportance(ctx context.Context, modelVersion string) (*domain.GlobalImportance, error) {
	if modelVersion == "" {
		return nil, fmt.Errorf("%w: model version is required", ErrInvalidInput)
	}

	query, args, err := r.sb.Select("model_version", "method", "sample_size", "ranking", "computed_at").
		From("importance").
		Where(sq.Eq{"model_version": modelVersion}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var gi domain.GlobalImportance
	var method, ranking string

	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&gi.ModelVersion, &method, &gi.SampleSize, &ranking, &gi.ComputedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	gi.Method = domain.AttributionMethod(method)
	if err := json.Unmarshal([]byte(ranking), &gi.Ranking); err != nil {
		return nil, fmt.Errorf("failed to parse ranking for %s: %w", modelVersion, err)
	}

	return &gi, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}
