package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"eventdesk/internal/config"
	"eventdesk/internal/constants"
	"eventdesk/internal/logger"
	"eventdesk/internal/session"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	if dc.Config.Database.Redis.Host == "" {
		return nil, nil // Redis is optional
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

// InitSessionStore builds the configured token store. The Redis client is
// returned so the caller can health-check and close it; it is nil for the
// memory store.
func (dc *DatabaseConnector) InitSessionStore(ctx context.Context) (session.Store, *redis.Client, error) {
	cfg := dc.Config.Session

	switch cfg.Store {
	case constants.SessionStoreRedis:
		rdb, err := dc.InitRedis(ctx)
		if err != nil {
			return nil, nil, err
		}
		if rdb == nil {
			return nil, nil, fmt.Errorf("session store is redis but database.redis.host is empty")
		}
		return session.NewRedisStore(rdb, cfg.KeyPrefix, cfg.TTL()), rdb, nil
	case constants.SessionStoreMemory, "":
		return session.NewMemoryStore(cfg.TTL()), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store: %s", cfg.Store)
	}
}

func (dc *DatabaseConnector) ShutdownDatabases(_ context.Context, redis *redis.Client) []error {
	var errs []error

	if redis != nil {
		if err := redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	return errs
}
