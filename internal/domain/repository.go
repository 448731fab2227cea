package domain

import (
	"context"
	"time"
)

// Repository persists the model registry and offline importance rankings.
// Applicant records, predictions and attributions are never stored.
type Repository interface {
	// Model registry operations
	SaveModelVersion(ctx context.Context, mv *ModelVersion) error
	GetModelVersion(ctx context.Context, version string) (*ModelVersion, error)
	ListModelVersions(ctx context.Context) ([]*ModelVersion, error)

	// Global importance operations
	SaveImportance(ctx context.Context, gi *GlobalImportance) error
	GetImportance(ctx context.Context, modelVersion string) (*GlobalImportance, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
