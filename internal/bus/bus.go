package bus

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Metadata keys set by publishers.
const (
	MetaTraceID      = "trace_id"
	MetaAssessmentID = "assessment_id"
	MetaReplyTo      = "reply_to"
)

const defaultRequestTimeout = 30 * time.Second

type metadataKey struct{}

// WithMetadata returns a context whose published messages carry kv in
// their metadata, in addition to any pairs already attached to ctx.
func WithMetadata(ctx context.Context, kv map[string]string) context.Context {
	merged := make(map[string]string)
	maps.Copy(merged, metadataFrom(ctx))
	maps.Copy(merged, kv)
	return context.WithValue(ctx, metadataKey{}, merged)
}

func metadataFrom(ctx context.Context) map[string]string {
	m, _ := ctx.Value(metadataKey{}).(map[string]string)
	return m
}

// messageMetadata returns a fresh copy of the metadata attached to ctx.
func messageMetadata(ctx context.Context) map[string]string {
	out := make(map[string]string)
	maps.Copy(out, metadataFrom(ctx))
	return out
}
