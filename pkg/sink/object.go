package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig configures the S3-compatible object store backend.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// ObjectSink stores one object per identifier under Bucket/Prefix.
type ObjectSink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectSink connects to the object store. Bucket existence is the
// operator's responsibility; the first Store surfaces a missing bucket as a
// per-identifier failure rather than a startup error.
func NewObjectSink(cfg ObjectConfig) (*ObjectSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object sink requires a bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return &ObjectSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Store uploads the document as <prefix><id>.xml, overwriting any previous
// version under the same key.
func (s *ObjectSink) Store(ctx context.Context, id string, content []byte) error {
	key := s.prefix + id + ".xml"
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/xml"})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Name implements Sink.
func (s *ObjectSink) Name() string { return "object" }
