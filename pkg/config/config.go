// Package config loads and validates the harvester configuration from a
// YAML file with environment overrides for deployment-specific knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geneius/pmc-harvester/pkg/credentials"
)

// Duration wraps time.Duration with YAML support for "400ms" style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SearchConfig controls the pagination stage.
type SearchConfig struct {
	PageSize int `yaml:"page_size"`
	// MaxResults is the upstream pagination ceiling; collecting past it is
	// not possible and the result set is reported as truncated.
	MaxResults int `yaml:"max_results"`
}

// IDMapConfig controls the id conversion stage.
type IDMapConfig struct {
	Enabled   bool `yaml:"enabled"`
	ChunkSize int  `yaml:"chunk_size"`
	// FailChunkOnParseError short-circuits a chunk on a malformed 200 body
	// instead of retrying it indefinitely.
	FailChunkOnParseError bool `yaml:"fail_chunk_on_parse_error"`
}

// DownloadConfig controls the document download stage.
type DownloadConfig struct {
	ChunkSize   int `yaml:"chunk_size"`
	Concurrency int `yaml:"concurrency"`
	MaxAttempts int `yaml:"max_attempts"`
}

// SinkConfig selects and configures the persistence backend.
type SinkConfig struct {
	// Backend is one of "fs", "s3", "redis".
	Backend string `yaml:"backend"`

	// fs backend.
	Dir string `yaml:"dir"`

	// s3 backend.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`

	// redis backend.
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// ReportConfig controls where outcome reports land.
type ReportConfig struct {
	Dir string `yaml:"dir"`
	// SQLitePath enables the cross-run outcome database when set.
	SQLitePath string `yaml:"sqlite_path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the full configuration surface of a harvest run.
type Config struct {
	Subjects    []string                 `yaml:"subjects"`
	Credentials []credentials.Credential `yaml:"credentials"`
	Tool        string                   `yaml:"tool"`
	RotateEvery int                      `yaml:"rotate_every"`

	Search   SearchConfig   `yaml:"search"`
	IDMap    IDMapConfig    `yaml:"idmap"`
	Download DownloadConfig `yaml:"download"`

	RetryDelay        Duration `yaml:"retry_delay"`
	InterRequestDelay Duration `yaml:"inter_request_delay"`
	Jitter            bool     `yaml:"jitter"`

	// SubjectConcurrency bounds how many subject pipelines run at once.
	// Zero runs all subjects concurrently.
	SubjectConcurrency int `yaml:"subject_concurrency"`

	Sink   SinkConfig   `yaml:"sink"`
	Report ReportConfig `yaml:"report"`
	Log    LogConfig    `yaml:"log"`

	// MetricsAddr serves Prometheus metrics on this address when set.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration defaults; the upstream-facing values
// match the service's published usage limits.
func Default() Config {
	return Config{
		Tool: "pmc-harvester",
		Search: SearchConfig{
			PageSize:   10000,
			MaxResults: 9999,
		},
		IDMap: IDMapConfig{
			Enabled:   true,
			ChunkSize: 200,
		},
		Download: DownloadConfig{
			ChunkSize:   100,
			Concurrency: 3,
			MaxAttempts: 3,
		},
		RetryDelay:        Duration(60 * time.Second),
		InterRequestDelay: Duration(400 * time.Millisecond),
		Sink: SinkConfig{
			Backend: "fs",
			Dir:     "documents",
		},
		Report: ReportConfig{Dir: "reports"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific knobs from the environment so one
// config file serves multiple environments.
func (c *Config) applyEnv() {
	c.Log.Level = getEnvStr("PMC_HARVESTER_LOG_LEVEL", c.Log.Level)
	c.MetricsAddr = getEnvStr("PMC_HARVESTER_METRICS_ADDR", c.MetricsAddr)
	c.Sink.Dir = getEnvStr("PMC_HARVESTER_SINK_DIR", c.Sink.Dir)
	c.Sink.RedisAddr = getEnvStr("PMC_HARVESTER_REDIS_ADDR", c.Sink.RedisAddr)
	c.Sink.Endpoint = getEnvStr("PMC_HARVESTER_S3_ENDPOINT", c.Sink.Endpoint)
	c.Sink.AccessKey = getEnvStr("PMC_HARVESTER_S3_ACCESS_KEY", c.Sink.AccessKey)
	c.Sink.SecretKey = getEnvStr("PMC_HARVESTER_S3_SECRET_KEY", c.Sink.SecretKey)
	c.Report.Dir = getEnvStr("PMC_HARVESTER_REPORT_DIR", c.Report.Dir)
}

// Validate reports configuration errors. These are the only fatal errors in
// the system; everything downstream degrades to per-identifier outcomes.
func (c *Config) Validate() error {
	if len(c.Subjects) == 0 {
		return fmt.Errorf("at least one subject is required")
	}
	if len(c.Credentials) == 0 {
		return fmt.Errorf("at least one credential is required")
	}
	if c.Tool == "" {
		return fmt.Errorf("tool name is required")
	}
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search.page_size must be positive (got %d)", c.Search.PageSize)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive (got %d)", c.Search.MaxResults)
	}
	if c.IDMap.Enabled && c.IDMap.ChunkSize <= 0 {
		return fmt.Errorf("idmap.chunk_size must be positive (got %d)", c.IDMap.ChunkSize)
	}
	if c.Download.ChunkSize <= 0 {
		return fmt.Errorf("download.chunk_size must be positive (got %d)", c.Download.ChunkSize)
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be positive (got %d)", c.Download.Concurrency)
	}
	if c.Download.MaxAttempts <= 0 {
		return fmt.Errorf("download.max_attempts must be positive (got %d)", c.Download.MaxAttempts)
	}
	if c.SubjectConcurrency < 0 {
		return fmt.Errorf("subject_concurrency must be >= 0 (got %d)", c.SubjectConcurrency)
	}

	switch c.Sink.Backend {
	case "fs":
		if c.Sink.Dir == "" {
			return fmt.Errorf("sink.dir is required for the fs backend")
		}
	case "s3":
		if c.Sink.Endpoint == "" || c.Sink.Bucket == "" {
			return fmt.Errorf("sink.endpoint and sink.bucket are required for the s3 backend")
		}
	case "redis":
		if c.Sink.RedisAddr == "" {
			return fmt.Errorf("sink.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown sink backend %q (want fs, s3, or redis)", c.Sink.Backend)
	}

	return nil
}

func getEnvStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
