// Package deduplication skips broker messages that were already handled,
// so a redelivered event update does not cost another backend fetch.
package deduplication

import (
	"context"
	"time"

	"eventdesk/internal/broker"
	"eventdesk/internal/config"
	"eventdesk/internal/constants"
	"eventdesk/internal/logger"
	"eventdesk/pkg/metrics"
	"eventdesk/pkg/models"
	"eventdesk/pkg/tracing"
)

type Guard struct {
	repo   Repository
	hasher *Hasher
	cfg    config.DeduplicationConfig
	logger logger.Logger
}

func NewGuard(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Guard {
	return &Guard{
		repo:   repo,
		hasher: NewHasher(cfg.HashAlgorithm),
		cfg:    cfg,
		logger: log.Named("deduplication"),
	}
}

// Claim reports whether msg is seen for the first time. The returned key
// releases the claim when handling fails.
func (g *Guard) Claim(ctx context.Context, msg models.MessageEnvelope) (bool, string, error) {
	ctx, span := tracing.GetTracer(constants.ServiceName).Start(ctx, "deduplication.claim")
	defer span.End()

	hash, err := g.hasher.Sum(msg)
	if err != nil {
		return false, "", err
	}

	key := constants.CacheKeyPrefixDedup + hash
	start := time.Now()
	unique, err := g.repo.SetNX(ctx, key, time.Now().Unix(), g.cfg.TTL())
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveDedup("error", duration)
		if g.cfg.OnRedisError == constants.FallbackDeny {
			metrics.FallbackUsageTotal.WithLabelValues("deduplication", "deny_on_error").Inc()
			return false, "", err
		}
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error").Inc()
		g.logger.WarnwCtx(ctx, "Dedup store failed, handling message anyway",
			"message_id", msg.ID,
			"error", err,
		)
		return true, "", nil
	}

	status := "duplicate"
	if unique {
		status = "unique"
	}
	metrics.ObserveDedup(status, duration)
	return unique, key, nil
}

// Wrap hands only first deliveries to next. A failed handler releases its
// claim so the retry is not mistaken for a duplicate.
func (g *Guard) Wrap(next broker.HandlerFunc) broker.HandlerFunc {
	return func(ctx context.Context, msg models.MessageEnvelope) error {
		unique, key, err := g.Claim(ctx, msg)
		if err != nil {
			return err
		}
		if !unique {
			g.logger.DebugwCtx(ctx, "Skipping redelivered message",
				"message_id", msg.ID,
				"type", msg.Type,
			)
			return nil
		}

		if err := next(ctx, msg); err != nil {
			if key != "" {
				if relErr := g.repo.Delete(ctx, key); relErr != nil {
					g.logger.WarnwCtx(ctx, "Failed to release dedup key",
						"message_id", msg.ID,
						"error", relErr,
					)
				}
			}
			return err
		}
		return nil
	}
}
