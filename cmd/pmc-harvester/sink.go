package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geneius/pmc-harvester/pkg/config"
	"github.com/geneius/pmc-harvester/pkg/sink"
)

// buildSink constructs the persistence backend named by the config. The
// backend value is already validated by config.Load, so an unknown backend
// here is a programming error.
func buildSink(cfg config.SinkConfig) (sink.Sink, error) {
	switch cfg.Backend {
	case "fs":
		return sink.NewFSSink(cfg.Dir)
	case "s3":
		return sink.NewObjectSink(sink.ObjectConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		})
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return sink.NewRedisSink(rdb, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

func seed() int64 {
	return time.Now().UnixNano()
}
