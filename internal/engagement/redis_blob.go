package engagement

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const engagementBlobKey = "engagement:records"

// RedisBlobStore persists the serialized cache under a single fixed redis key.
type RedisBlobStore struct {
	redis  *redis.Client
	key    string
	tracer trace.Tracer
}

// NewRedisBlobStore creates a blob store over the given client. Returns nil
// when no client is configured so callers can run cache-only.
func NewRedisBlobStore(client *redis.Client) *RedisBlobStore {
	if client == nil {
		return nil
	}
	return &RedisBlobStore{
		redis:  client,
		key:    engagementBlobKey,
		tracer: otel.Tracer("engagement.redis_blob"),
	}
}

var _ BlobStore = (*RedisBlobStore)(nil)

// Load fetches the stored blob. A missing key yields (nil, nil).
func (s *RedisBlobStore) Load(ctx context.Context) ([]byte, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "engagement.blob.load")
	defer span.End()

	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("engagement: redis load: %w", err)
	}
	return data, nil
}

// Save writes the blob, replacing any previous value.
func (s *RedisBlobStore) Save(ctx context.Context, data []byte) error {
	if s == nil || s.redis == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "engagement.blob.save")
	defer span.End()

	if err := s.redis.Set(ctx, s.key, data, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("engagement: redis save: %w", err)
	}
	return nil
}
