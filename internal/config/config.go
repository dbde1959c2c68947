package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Backend        BackendConfig        `mapstructure:"backend"`
	Coalescer      CoalescerConfig      `mapstructure:"coalescer"`
	Review         ReviewConfig         `mapstructure:"review"`
	Catalog        CatalogConfig        `mapstructure:"catalog"`
	Session        SessionConfig        `mapstructure:"session"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Deduplication  DeduplicationConfig  `mapstructure:"deduplication"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// BackendConfig points at the platform REST API.
type BackendConfig struct {
	BaseURL            string      `mapstructure:"base_url"`
	TimeoutSeconds     int         `mapstructure:"timeout_seconds"`
	Retry              RetryConfig `mapstructure:"retry"`
	MaxAttachments     int         `mapstructure:"max_attachments"`
	MaxAttachmentBytes int64       `mapstructure:"max_attachment_bytes"`
}

func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type CoalescerConfig struct {
	DelayMilliseconds    int `mapstructure:"delay_milliseconds"`
	CommitTimeoutSeconds int `mapstructure:"commit_timeout_seconds"`
	FlushConcurrency     int `mapstructure:"flush_concurrency"`
}

func (c CoalescerConfig) Delay() time.Duration {
	return time.Duration(c.DelayMilliseconds) * time.Millisecond
}

func (c CoalescerConfig) CommitTimeout() time.Duration {
	return time.Duration(c.CommitTimeoutSeconds) * time.Second
}

type ReviewConfig struct {
	OnCommitError    string `mapstructure:"on_commit_error"` // "keep" or "rollback" (default: "keep")
	FlushOnShutdown  bool   `mapstructure:"flush_on_shutdown"`
	MaxCommentLength int    `mapstructure:"max_comment_length"`
}

type CatalogConfig struct {
	Reload             ReloadConfig `mapstructure:"reload"`
	ExpressionsEnabled bool         `mapstructure:"expressions_enabled"`
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

// SessionConfig selects where the access token lives.
type SessionConfig struct {
	Store      string `mapstructure:"store"` // "memory" or "redis"
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DeduplicationConfig controls skipping of redelivered broker messages.
type DeduplicationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Store         string `mapstructure:"store"` // "memory" or "redis"
	HashAlgorithm string `mapstructure:"hash_algorithm"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	OnRedisError  string `mapstructure:"on_redis_error"` // "allow" or "deny"
}

func (c DeduplicationConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"` // "kafka" or "none"
	Kafka KafkaConfig `mapstructure:"kafka"`
}

func (c BrokerConfig) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

type KafkaConfig struct {
	Brokers          []string    `mapstructure:"brokers"`
	GroupID          string      `mapstructure:"group_id"`
	VerdictTopic     string      `mapstructure:"verdict_topic"`
	EventUpdateTopic string      `mapstructure:"event_update_topic"`
	DLQTopic         string      `mapstructure:"dlq_topic"`
	Retry            RetryConfig `mapstructure:"retry"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
