package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile, applies defaults and environment overrides
// and validates the result. An empty configFile loads defaults and
// environment only.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 15)
	viper.SetDefault("server.write_timeout_seconds", 30)

	viper.SetDefault("backend.base_url", "http://localhost:9000/api")
	viper.SetDefault("backend.timeout_seconds", 10)
	viper.SetDefault("backend.retry.max_attempts", 3)
	viper.SetDefault("backend.retry.initial_interval", "200ms")
	viper.SetDefault("backend.retry.max_interval", "5s")
	viper.SetDefault("backend.retry.multiplier", 2.0)
	viper.SetDefault("backend.retry.max_elapsed_time", "30s")
	viper.SetDefault("backend.max_attachments", 5)
	viper.SetDefault("backend.max_attachment_bytes", 10<<20)

	viper.SetDefault("coalescer.delay_milliseconds", 400)
	viper.SetDefault("coalescer.commit_timeout_seconds", 10)
	viper.SetDefault("coalescer.flush_concurrency", 8)

	viper.SetDefault("review.on_commit_error", "keep")
	viper.SetDefault("review.flush_on_shutdown", true)
	viper.SetDefault("review.max_comment_length", 2000)

	viper.SetDefault("catalog.reload.interval_seconds", 60)
	viper.SetDefault("catalog.reload.jitter_max_milliseconds", 0)
	viper.SetDefault("catalog.expressions_enabled", true)

	viper.SetDefault("session.store", "memory")
	viper.SetDefault("session.ttl_seconds", 86400)
	viper.SetDefault("session.key_prefix", "eventdesk:session:")

	viper.SetDefault("broker.type", "none")
	viper.SetDefault("broker.kafka.group_id", "console-service")
	viper.SetDefault("broker.kafka.verdict_topic", "application_verdicts")
	viper.SetDefault("broker.kafka.event_update_topic", "event_updates")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("deduplication.enabled", true)
	viper.SetDefault("deduplication.store", "memory")
	viper.SetDefault("deduplication.hash_algorithm", "sha256")
	viper.SetDefault("deduplication.ttl_seconds", 3600)
	viper.SetDefault("deduplication.on_redis_error", "allow")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.rps", 20.0)
	viper.SetDefault("rate_limit.burst", 40)
	viper.SetDefault("rate_limit.cleanup_interval", 60)
	viper.SetDefault("rate_limit.max_age", 300)

	viper.SetDefault("tracing.service_name", "console-service")
	viper.SetDefault("tracing.sampler.type", "always_on")
}

func bindEnvVariables() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("backend.base_url", "BACKEND_BASE_URL")
	viper.BindEnv("backend.timeout_seconds", "BACKEND_TIMEOUT_SECONDS")

	viper.BindEnv("coalescer.delay_milliseconds", "COALESCER_DELAY_MILLISECONDS")
	viper.BindEnv("review.on_commit_error", "REVIEW_ON_COMMIT_ERROR")

	viper.BindEnv("session.store", "SESSION_STORE")
	viper.BindEnv("session.ttl_seconds", "SESSION_TTL_SECONDS")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.verdict_topic", "BROKER_KAFKA_VERDICT_TOPIC")
	viper.BindEnv("broker.kafka.event_update_topic", "BROKER_KAFKA_EVENT_UPDATE_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("deduplication.enabled", "DEDUPLICATION_ENABLED")
	viper.BindEnv("deduplication.store", "DEDUPLICATION_STORE")
	viper.BindEnv("deduplication.on_redis_error", "DEDUPLICATION_ON_REDIS_ERROR")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")

	return nil
}
