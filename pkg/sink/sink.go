// Package sink provides the persistence backends a harvest run stores
// documents into: local filesystem, S3-compatible object storage, or redis.
package sink

import "context"

// Sink durably stores one document per identifier.
//
// Store must be idempotent: writing the same identifier twice overwrites.
// Failures are returned to the caller as errors and recorded per identifier;
// they are never fatal to the run. Implementations are called concurrently
// by downloader workers, which is safe because each identifier maps to a
// distinct path or key.
type Sink interface {
	Store(ctx context.Context, id string, content []byte) error
	Name() string
}
