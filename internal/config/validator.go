package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	validators := []func() error{
		func() error { return validateServer(cfg.Server) },
		func() error { return validateBackend(cfg.Backend) },
		func() error { return validateCoalescer(cfg.Coalescer) },
		func() error { return validateReview(cfg.Review) },
		func() error { return validateCatalog(cfg.Catalog) },
		func() error { return validateSession(cfg.Session, cfg.Database.Redis) },
		func() error { return validateBroker(cfg.Broker) },
		func() error { return validateDeduplication(cfg.Deduplication, cfg.Database.Redis) },
		func() error { return validateRateLimit(cfg.RateLimit) },
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBackend(cfg BackendConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "backend.base_url",
			Message: "backend base URL is required",
		}
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{
			Field:   "backend.base_url",
			Message: fmt.Sprintf("backend base URL must be an absolute http(s) URL, got %q", cfg.BaseURL),
		}
	}

	if cfg.TimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "backend.timeout_seconds",
			Message: "timeout must be positive",
		}
	}

	if cfg.MaxAttachments < 0 || cfg.MaxAttachmentBytes < 0 {
		return &ValidationError{
			Field:   "backend.max_attachments",
			Message: "attachment limits must be non-negative",
		}
	}

	return validateRetry("backend.retry", cfg.Retry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateCoalescer(cfg CoalescerConfig) error {
	if cfg.DelayMilliseconds <= 0 {
		return &ValidationError{
			Field:   "coalescer.delay_milliseconds",
			Message: "delay must be positive",
		}
	}

	if cfg.CommitTimeoutSeconds < 0 {
		return &ValidationError{
			Field:   "coalescer.commit_timeout_seconds",
			Message: "commit timeout must be non-negative",
		}
	}

	if cfg.FlushConcurrency < 0 {
		return &ValidationError{
			Field:   "coalescer.flush_concurrency",
			Message: "flush concurrency must be non-negative",
		}
	}

	return nil
}

func validateReview(cfg ReviewConfig) error {
	switch strings.ToLower(cfg.OnCommitError) {
	case "", "keep", "rollback":
	default:
		return &ValidationError{
			Field:   "review.on_commit_error",
			Message: fmt.Sprintf("invalid on_commit_error value: %s (valid: keep, rollback)", cfg.OnCommitError),
		}
	}

	if cfg.MaxCommentLength < 0 {
		return &ValidationError{
			Field:   "review.max_comment_length",
			Message: "max comment length must be non-negative",
		}
	}

	return nil
}

func validateCatalog(cfg CatalogConfig) error {
	if cfg.Reload.IntervalSeconds < 0 {
		return &ValidationError{
			Field:   "catalog.reload.interval_seconds",
			Message: "reload interval must be non-negative",
		}
	}

	if cfg.Reload.JitterMaxMilliseconds < 0 {
		return &ValidationError{
			Field:   "catalog.reload.jitter_max_milliseconds",
			Message: "jitter must be non-negative",
		}
	}

	return nil
}

func validateSession(cfg SessionConfig, redis RedisConfig) error {
	switch cfg.Store {
	case "", "memory":
	case "redis":
		if err := validateRedis(redis); err != nil {
			return err
		}
	default:
		return &ValidationError{
			Field:   "session.store",
			Message: fmt.Sprintf("unknown session store: %s (supported: memory, redis)", cfg.Store),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "session.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig, redis RedisConfig) error {
	if !cfg.Enabled {
		return nil
	}

	switch cfg.Store {
	case "", "memory":
	case "redis":
		if err := validateRedis(redis); err != nil {
			return err
		}
	default:
		return &ValidationError{
			Field:   "deduplication.store",
			Message: fmt.Sprintf("unknown deduplication store: %s (supported: memory, redis)", cfg.Store),
		}
	}

	switch cfg.HashAlgorithm {
	case "", "sha256", "md5":
	default:
		return &ValidationError{
			Field:   "deduplication.hash_algorithm",
			Message: fmt.Sprintf("unsupported hash algorithm: %s (supported: sha256, md5)", cfg.HashAlgorithm),
		}
	}

	if cfg.TTLSeconds <= 0 {
		return &ValidationError{
			Field:   "deduplication.ttl_seconds",
			Message: "TTL must be positive",
		}
	}

	switch cfg.OnRedisError {
	case "", "allow", "deny":
	default:
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("on_redis_error must be allow or deny, got %s", cfg.OnRedisError),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "", "none":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, none)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.VerdictTopic == "" && cfg.EventUpdateTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.verdict_topic",
			Message: "at least one of verdict_topic and event_update_topic is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRateLimit(cfg RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.RPS <= 0 {
		return &ValidationError{
			Field:   "rate_limit.rps",
			Message: "rps must be positive when rate limiting is enabled",
		}
	}

	if cfg.Burst <= 0 {
		return &ValidationError{
			Field:   "rate_limit.burst",
			Message: "burst must be positive when rate limiting is enabled",
		}
	}

	return nil
}
