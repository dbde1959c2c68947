package deduplication

import (
	"context"
	"time"

	"eventdesk/internal/config"
	"eventdesk/pkg/circuitbreaker"
)

// CircuitBreakerRepository stops calling a failing store until the breaker
// lets a probe through again.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}
	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.FromConfig("redis-dedup", cfg)),
	}
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.cb == nil {
		return r.repo.SetNX(ctx, key, value, ttl)
	}
	return circuitbreaker.Execute(ctx, r.cb, func(ctx context.Context) (bool, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
}

func (r *CircuitBreakerRepository) Delete(ctx context.Context, key string) error {
	if r.cb == nil {
		return r.repo.Delete(ctx, key)
	}
	_, err := circuitbreaker.Execute(ctx, r.cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.repo.Delete(ctx, key)
	})
	return err
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}
