// Package review holds an organizer's working copy of one event's
// applications. Edits are applied locally at once and reach the backend
// through a coalescer, so a burst of changes to one application costs a
// single PATCH.
package review

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"eventdesk/internal/backend"
	"eventdesk/internal/coalescer"
	"eventdesk/internal/config"
	"eventdesk/internal/constants"
	"eventdesk/internal/domain"
	"eventdesk/internal/filter"
	"eventdesk/internal/logger"
	"eventdesk/internal/notice"
	"eventdesk/pkg/cel"
	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/metrics"
)

const source = "review"

// Backend is the part of the platform client the review needs.
type Backend interface {
	ListApplications(ctx context.Context, eventID int64) ([]domain.Application, error)
	UpdateApplication(ctx context.Context, id int64, patch backend.ApplicationPatch) (domain.Application, error)
}

// Patch is an organizer edit. Nil fields are left as they are.
type Patch struct {
	Status  *string `json:"status"`
	Comment *string `json:"comment"`
}

type Service struct {
	backend   Backend
	publisher *Publisher
	notices   notice.Reporter
	cfg       config.ReviewConfig
	evaluator *cel.Evaluator
	logger    logger.Logger
	commits   *coalescer.Coalescer[int64, domain.Application]

	// mu guards the working copy. Edit schedules under mu so a rollback
	// that checks for pending edits under mu cannot miss a newer one.
	mu      sync.RWMutex
	eventID int64
	apps    []domain.Application
	acked   map[int64]domain.Application
}

func NewService(
	b Backend,
	publisher *Publisher,
	notices notice.Reporter,
	cfg config.ReviewConfig,
	coalescerCfg config.CoalescerConfig,
	evaluator *cel.Evaluator,
	log logger.Logger,
	opts ...coalescer.Option,
) *Service {
	s := &Service{
		backend:   b,
		publisher: publisher,
		notices:   notices,
		cfg:       cfg,
		evaluator: evaluator,
		logger:    log.Named(source),
		acked:     make(map[int64]domain.Application),
	}

	base := []coalescer.Option{
		coalescer.WithName("applications"),
		coalescer.WithLogger(s.logger),
		coalescer.WithErrorHandler(s.onCommitError),
	}
	if d := coalescerCfg.Delay(); d > 0 {
		base = append(base, coalescer.WithDelay(d))
	}
	if d := coalescerCfg.CommitTimeout(); d > 0 {
		base = append(base, coalescer.WithCommitTimeout(d))
	}
	if coalescerCfg.FlushConcurrency > 0 {
		base = append(base, coalescer.WithFlushConcurrency(coalescerCfg.FlushConcurrency))
	}
	s.commits = coalescer.New[int64, domain.Application](s.commit, append(base, opts...)...)
	return s
}

// Load replaces the working copy with the applications of eventID. Edits
// still waiting for their commit stay visible over the fetched values.
func (s *Service) Load(ctx context.Context, eventID int64) ([]domain.Application, error) {
	apps, err := s.backend.ListApplications(ctx, eventID)
	if err != nil {
		return nil, err
	}

	acked := make(map[int64]domain.Application, len(apps))
	for i, app := range apps {
		acked[app.ID] = app
		if pending, ok := s.commits.Snapshot(app.ID); ok {
			apps[i] = pending
		}
	}

	s.mu.Lock()
	s.eventID = eventID
	s.apps = apps
	s.acked = acked
	s.mu.Unlock()

	metrics.SetCollectionSize(constants.CollectionApplications, len(apps))
	s.logger.InfowCtx(ctx, "Loaded applications for review",
		"event_id", eventID,
		"applications_count", len(apps),
	)
	return apps, nil
}

func (s *Service) EventID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventID
}

// Edit applies patch to the local copy of application id and schedules its
// commit. The returned value is the new local state.
func (s *Service) Edit(ctx context.Context, id int64, patch Patch) (domain.Application, error) {
	if err := s.validate(patch); err != nil {
		return domain.Application{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Application{}, apperrors.ErrNotFound.WithDetail("application_id", strconv.FormatInt(id, 10))
	}

	current := s.apps[idx]
	next := current
	if patch.Status != nil {
		next = next.WithStatus(domain.Verdict(*patch.Status))
		metrics.ReviewEditsTotal.WithLabelValues("status").Inc()
	}
	if patch.Comment != nil {
		next = next.WithComment(*patch.Comment)
		metrics.ReviewEditsTotal.WithLabelValues("comment").Inc()
	}

	if next.SameState(current) && !s.commits.Pending(id) {
		return current, nil
	}

	if err := s.commits.Schedule(id, next); err != nil {
		return domain.Application{}, apperrors.ErrServiceUnavailable.WithCause(err)
	}
	s.replaceLocked(idx, next)

	s.logger.DebugwCtx(ctx, "Edit scheduled",
		"application_id", id,
		"status", next.Status,
	)
	return next, nil
}

func (s *Service) validate(patch Patch) error {
	if patch.Status == nil && patch.Comment == nil {
		return apperrors.ErrValidation.WithDetail("reason", "patch changes nothing")
	}
	if patch.Status != nil {
		if _, err := domain.ParseVerdict(*patch.Status); err != nil {
			return apperrors.ErrValidation.WithCause(err).WithDetail("field", "status")
		}
	}
	if patch.Comment != nil && s.cfg.MaxCommentLength > 0 {
		if n := utf8.RuneCountInString(*patch.Comment); n > s.cfg.MaxCommentLength {
			return apperrors.ErrValidation.
				WithDetail("field", "comment").
				WithDetail("reason", fmt.Sprintf("comment is %d characters, max %d", n, s.cfg.MaxCommentLength))
		}
	}
	return nil
}

// Flush commits the pending edit of id now. Failures get the same
// treatment as timer-driven commits and are also returned.
func (s *Service) Flush(ctx context.Context, id int64) (bool, error) {
	flushed, err := s.commits.Flush(ctx, id)
	if err != nil {
		s.onCommitError(id, err)
	}
	return flushed, err
}

// Discard drops the pending edit of id and restores the last value the
// backend acknowledged.
func (s *Service) Discard(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.commits.Cancel(id) {
		return false
	}
	s.restoreLocked(id)
	return true
}

// PendingCount is the number of applications with an uncommitted edit.
func (s *Service) PendingCount() int {
	return s.commits.Len()
}

// Close flushes outstanding edits when configured to, then stops the
// coalescer. Whatever is still pending afterwards is dropped.
func (s *Service) Close(ctx context.Context) error {
	var err error
	if s.cfg.FlushOnShutdown {
		if n := s.commits.Len(); n > 0 {
			s.logger.InfowCtx(ctx, "Flushing pending edits", "pending", n)
		}
		err = s.commits.FlushAll(ctx)
	}
	s.commits.Close()
	return err
}

func (s *Service) commit(ctx context.Context, id int64, snapshot domain.Application) error {
	if _, err := s.backend.UpdateApplication(ctx, id, backend.PatchFrom(snapshot)); err != nil {
		return err
	}

	s.mu.Lock()
	s.acked[id] = snapshot
	s.mu.Unlock()

	if err := s.publisher.Publish(ctx, snapshot); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish verdict change",
			"application_id", id,
			"error", err,
		)
	}
	return nil
}

func (s *Service) onCommitError(id int64, err error) {
	ctx := context.Background()
	s.notices.Report(ctx, notice.Error(source, strconv.FormatInt(id, 10), err))

	if s.cfg.OnCommitError != constants.OnCommitErrorRollback {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commits.Busy(id) {
		return
	}
	if s.restoreLocked(id) {
		metrics.ReviewRollbacksTotal.Inc()
		s.logger.InfowCtx(ctx, "Rolled back failed edit", "application_id", id)
	}
}

// restoreLocked puts the acknowledged value of id back into the working
// copy. The caller holds s.mu.
func (s *Service) restoreLocked(id int64) bool {
	prev, ok := s.acked[id]
	if !ok {
		return false
	}
	idx := s.indexLocked(id)
	if idx < 0 || s.apps[idx].SameState(prev) {
		return false
	}
	s.replaceLocked(idx, prev)
	return true
}

func (s *Service) indexLocked(id int64) int {
	for i, app := range s.apps {
		if app.ID == id {
			return i
		}
	}
	return -1
}

// replaceLocked swaps in a new backing slice so lists handed out earlier
// keep their contents.
func (s *Service) replaceLocked(idx int, app domain.Application) {
	next := make([]domain.Application, len(s.apps))
	copy(next, s.apps)
	next[idx] = app
	s.apps = next
}

func (s *Service) snapshot() []domain.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apps
}

// Application returns the local state of one application.
func (s *Service) Application(id int64) (domain.Application, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.apps[idx], true
	}
	return domain.Application{}, false
}

// Criteria builds application criteria from request parameters.
func (s *Service) Criteria(params map[string]string) (filter.Criteria, error) {
	criteria, err := ApplicationSchema.Criteria(params, s.evaluator)
	if err != nil {
		return nil, apperrors.ErrValidation.WithCause(err).WithDetail("param", filter.ExpressionParam)
	}
	return criteria, nil
}

func (s *Service) Applications(ctx context.Context, criteria filter.Criteria) []domain.Application {
	start := time.Now()
	out := filter.ApplyContext(ctx, s.snapshot(), criteria)
	metrics.ObserveFilterDuration(constants.CollectionApplications, time.Since(start))
	return out
}

func (s *Service) Facets(field string) ([]string, error) {
	if !ApplicationSchema.Facetable(field) {
		return nil, apperrors.ErrValidation.WithDetail("field", field)
	}
	return filter.DistinctValues(s.snapshot(), field), nil
}
