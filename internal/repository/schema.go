package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaModelVersions is the registry of manifests that were served.
const schemaModelVersions = `
CREATE TABLE IF NOT EXISTS model_versions (
    version TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    classifier_kind TEXT NOT NULL,
    num_features INTEGER NOT NULL,
    feature_names TEXT NOT NULL,
    has_reference INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    loaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_versions_loaded ON model_versions(loaded_at);
`

// schemaImportance holds one global ranking per model version.
const schemaImportance = `
CREATE TABLE IF NOT EXISTS importance (
    model_version TEXT PRIMARY KEY,
    method TEXT NOT NULL,
    sample_size INTEGER NOT NULL,
    ranking TEXT NOT NULL,
    computed_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaModelVersions,
		schemaImportance,
	}
}
