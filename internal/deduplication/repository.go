package deduplication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository records message keys for a limited time.
type Repository interface {
	// SetNX stores key unless it is already present and reports whether it
	// stored it.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type RedisRepository struct {
	client redis.UniversalClient
}

func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

// sweepThreshold is the key count at which SetNX drops expired keys.
const sweepThreshold = 4096

// MemoryRepository keeps keys in process memory. Expired keys are dropped
// once the table reaches sweepThreshold and by Sweep.
type MemoryRepository struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (r *MemoryRepository) SetNX(ctx context.Context, key string, _ interface{}, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if exp, ok := r.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	if len(r.expires) >= sweepThreshold {
		r.sweepLocked(now)
	}
	r.expires[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.expires, key)
	r.mu.Unlock()
	return nil
}

// Sweep removes expired keys and returns how many remain.
func (r *MemoryRepository) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(r.now())
	return len(r.expires)
}

func (r *MemoryRepository) sweepLocked(now time.Time) {
	for key, exp := range r.expires {
		if !now.Before(exp) {
			delete(r.expires, key)
		}
	}
}
