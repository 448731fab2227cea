package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Fitted model artifacts
	Artifacts ArtifactConfig `json:"artifacts" yaml:"artifacts"`

	// Attribution settings
	Explain ExplainConfig `json:"explain" yaml:"explain"`

	// Async assessment worker
	Worker WorkerConfig `json:"worker" yaml:"worker"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// ArtifactConfig locates the exported training artifacts.
type ArtifactConfig struct {
	// Dir holds manifest.json and the files it lists
	Dir string `json:"dir" yaml:"dir"`

	// Manifest file name inside Dir
	Manifest string `json:"manifest" yaml:"manifest"`

	// VerifyChecksums rejects files whose SHA-256 differs from the manifest
	VerifyChecksums bool `json:"verifyChecksums" yaml:"verifyChecksums"`
}

// ExplainConfig holds attribution settings.
type ExplainConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Permutations drawn by the sampling strategy per explanation
	Permutations int `json:"permutations" yaml:"permutations"`

	// Seed makes sampling explanations reproducible
	Seed uint64 `json:"seed" yaml:"seed"`

	// MaxDisplay bounds the rows of the rendered payload
	MaxDisplay int `json:"maxDisplay" yaml:"maxDisplay"`

	// ImportanceWorkers bounds parallelism of global importance
	ImportanceWorkers int `json:"importanceWorkers" yaml:"importanceWorkers"`

	// ImportanceTTL is how long a ranking stays in the cache
	ImportanceTTL time.Duration `json:"importanceTTL" yaml:"importanceTTL"`
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ServiceName  string `json:"serviceName" yaml:"serviceName"`
	ExporterType string `json:"exporterType" yaml:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-process channels and a local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Artifacts: ArtifactConfig{
			Dir:             "./models",
			Manifest:        "manifest.json",
			VerifyChecksums: true,
		},
		Explain: ExplainConfig{
			Enabled:           true,
			Permutations:      64,
			Seed:              42,
			MaxDisplay:        10,
			ImportanceWorkers: 4,
			ImportanceTTL:     time.Hour,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   100,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
