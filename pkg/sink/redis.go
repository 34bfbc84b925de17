package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink stores one key per identifier under a prefix. Useful for
// development and staging runs where documents should land somewhere
// inspectable without provisioning disk or an object store.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink wraps an existing redis client.
func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

// Store SETs <prefix><id> to the document with no TTL; re-storing the same
// identifier overwrites.
func (s *RedisSink) Store(ctx context.Context, id string, content []byte) error {
	key := s.prefix + id
	if err := s.client.Set(ctx, key, content, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }
