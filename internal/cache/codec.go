package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// store is the byte-level part of domain.Cache that importance rankings
// are layered on.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ImportanceKey is the cache key of the ranking for a model version.
func ImportanceKey(modelVersion string) string {
	return "importance:" + modelVersion
}

func getImportance(ctx context.Context, s store, modelVersion string) (*domain.GlobalImportance, error) {
	data, err := s.Get(ctx, ImportanceKey(modelVersion))
	if err != nil || data == nil {
		return nil, err
	}

	var gi domain.GlobalImportance
	if err := json.Unmarshal(data, &gi); err != nil {
		return nil, fmt.Errorf("failed to decode cached importance: %w", err)
	}
	return &gi, nil
}

func setImportance(ctx context.Context, s store, gi *domain.GlobalImportance, ttl time.Duration) error {
	if gi == nil || gi.ModelVersion == "" {
		return fmt.Errorf("model version is required")
	}
	data, err := json.Marshal(gi)
	if err != nil {
		return err
	}
	return s.Set(ctx, ImportanceKey(gi.ModelVersion), data, ttl)
}
