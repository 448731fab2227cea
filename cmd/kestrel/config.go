package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// loadConfig resolves the configuration in order: tier defaults, the YAML
// file, then KESTREL_* variables. A missing env file is not an error.
func loadConfig(path, envFile string) (*domain.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from the environment. Secrets are only read
// from here or the YAML file, never from flags.
func applyEnv(cfg *domain.Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("KESTREL_HOST", &cfg.Server.Host)
	num("KESTREL_PORT", &cfg.Server.Port)

	str("KESTREL_ARTIFACTS_DIR", &cfg.Artifacts.Dir)
	str("KESTREL_MANIFEST", &cfg.Artifacts.Manifest)
	flag("KESTREL_VERIFY_CHECKSUMS", &cfg.Artifacts.VerifyChecksums)

	flag("KESTREL_EXPLAIN", &cfg.Explain.Enabled)
	num("KESTREL_EXPLAIN_PERMUTATIONS", &cfg.Explain.Permutations)
	num("KESTREL_EXPLAIN_MAX_DISPLAY", &cfg.Explain.MaxDisplay)
	num("KESTREL_IMPORTANCE_WORKERS", &cfg.Explain.ImportanceWorkers)
	if v, ok := os.LookupEnv("KESTREL_IMPORTANCE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("KESTREL_IMPORTANCE_TTL: %w", err))
		} else {
			cfg.Explain.ImportanceTTL = d
		}
	}

	flag("KESTREL_ASYNC_WORKER", &cfg.Worker.Enabled)

	str("KESTREL_DB_DRIVER", &cfg.Repository.Driver)
	str("KESTREL_DB_PATH", &cfg.Repository.SQLitePath)
	str("KESTREL_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	num("KESTREL_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	str("KESTREL_POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("KESTREL_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("KESTREL_POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("KESTREL_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("KESTREL_CACHE", &cfg.Cache.Type)
	str("KESTREL_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("KESTREL_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	num("KESTREL_REDIS_DB", &cfg.Cache.RedisDB)

	str("KESTREL_BUS", &cfg.EventBus.Type)
	str("KESTREL_NATS_URL", &cfg.EventBus.NATSUrl)
	str("KESTREL_NATS_TOKEN", &cfg.EventBus.NATSToken)

	str("KESTREL_LOG_LEVEL", &cfg.Logging.Level)
	str("KESTREL_LOG_FORMAT", &cfg.Logging.Format)

	return errors.Join(errs...)
}

// newLogger builds the process logger. KESTREL_DEBUG=true forces debug level.
func newLogger(w io.Writer, lc domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
