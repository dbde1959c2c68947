// Package catalog keeps the platform's event list in memory and serves
// filtered views, filter options and application submission over it.
package catalog

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"eventdesk/internal/backend"
	"eventdesk/internal/config"
	"eventdesk/internal/constants"
	"eventdesk/internal/domain"
	"eventdesk/internal/filter"
	"eventdesk/internal/logger"
	"eventdesk/pkg/cel"
	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/metrics"
	"eventdesk/pkg/tracing"
)

// Backend is the part of the platform client the catalog needs.
type Backend interface {
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	SubmitApplication(ctx context.Context, eventID int64, form backend.ApplicationForm, files []backend.Upload) (domain.Application, error)
}

type Service struct {
	backend   Backend
	cfg       config.CatalogConfig
	limits    Limits
	evaluator *cel.Evaluator
	logger    logger.Logger

	mu       sync.RWMutex
	events   []domain.Event
	loadedAt time.Time
}

func NewService(b Backend, cfg config.CatalogConfig, limits Limits, evaluator *cel.Evaluator, log logger.Logger) *Service {
	if !cfg.ExpressionsEnabled {
		evaluator = nil
	}
	return &Service{
		backend:   b,
		cfg:       cfg,
		limits:    limits,
		evaluator: evaluator,
		logger:    log.Named("catalog"),
	}
}

// ReloadEvents replaces the cached list with the backend's. The cache is
// left untouched when the fetch fails.
func (s *Service) ReloadEvents(ctx context.Context, skipJitter ...bool) error {
	ctx, span := tracing.GetTracer("catalog").Start(ctx, "catalog.reload")
	defer span.End()

	if err := s.applyJitter(ctx, len(skipJitter) > 0 && skipJitter[0]); err != nil {
		return err
	}

	events, err := s.backend.ListEvents(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.events = events
	s.loadedAt = time.Now()
	s.mu.Unlock()

	metrics.SetCollectionSize(constants.CollectionEvents, len(events))
	s.logger.InfowCtx(ctx, "Reloaded events", "events_count", len(events))
	return nil
}

func (s *Service) applyJitter(ctx context.Context, skip bool) error {
	if skip || s.cfg.Reload.JitterMaxMilliseconds <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter", "jitter_ms", jitter.Milliseconds())

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartReloader loads the catalog once and then on every interval tick
// until ctx is done. A zero interval loads once and waits.
func (s *Service) StartReloader(ctx context.Context) error {
	if err := s.ReloadEvents(ctx, true); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to load events", "error", err)
	}

	if s.cfg.Reload.IntervalSeconds <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadEvents(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload events", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) snapshot() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events
}

// LoadedAt is the time of the last successful reload, zero before the first.
func (s *Service) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Criteria builds event criteria from request parameters.
func (s *Service) Criteria(params map[string]string) (filter.Criteria, error) {
	criteria, err := EventSchema.Criteria(params, s.evaluator)
	if err != nil {
		return nil, apperrors.ErrValidation.WithCause(err).WithDetail("param", filter.ExpressionParam)
	}
	return criteria, nil
}

// Events returns the cached events matching criteria.
func (s *Service) Events(ctx context.Context, criteria filter.Criteria) []domain.Event {
	start := time.Now()
	out := filter.ApplyContext(ctx, s.snapshot(), criteria)
	metrics.ObserveFilterDuration(constants.CollectionEvents, time.Since(start))
	return out
}

// Facets lists the distinct values of a categorical event field.
func (s *Service) Facets(field string) ([]string, error) {
	if !EventSchema.Facetable(field) {
		return nil, apperrors.ErrValidation.WithDetail("field", field)
	}
	return filter.DistinctValues(s.snapshot(), field), nil
}

// Event returns a cached event, falling back to the backend when the
// cache does not know it yet.
func (s *Service) Event(ctx context.Context, id int64) (domain.Event, error) {
	for _, ev := range s.snapshot() {
		if ev.ID == id {
			return ev, nil
		}
	}
	ev, err := s.backend.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	s.upsert(ev)
	return ev, nil
}

// upsert replaces the cached event with the same ID or appends it. The
// slice is copied so filtered views handed out earlier stay intact.
func (s *Service) upsert(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.Event, 0, len(s.events)+1)
	replaced := false
	for _, cur := range s.events {
		if cur.ID == ev.ID {
			next = append(next, ev)
			replaced = true
			continue
		}
		next = append(next, cur)
	}
	if !replaced {
		next = append(next, ev)
	}
	s.events = next
	metrics.SetCollectionSize(constants.CollectionEvents, len(next))
}

func (s *Service) remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.Event, 0, len(s.events))
	for _, cur := range s.events {
		if cur.ID != id {
			next = append(next, cur)
		}
	}
	removed := len(next) != len(s.events)
	s.events = next
	metrics.SetCollectionSize(constants.CollectionEvents, len(next))
	return removed
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
