// Package inbox caches the signed-in user's notifications.
package inbox

import (
	"context"
	"strconv"
	"sync"
	"time"

	"eventdesk/internal/constants"
	"eventdesk/internal/domain"
	"eventdesk/internal/filter"
	"eventdesk/internal/logger"
	"eventdesk/internal/notice"
	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/metrics"
)

const source = "inbox"

type Backend interface {
	ListNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
}

// NotificationSchema maps the inbox query parameters to notification fields.
var NotificationSchema = filter.Schema{
	"message": {Field: "message", Kind: filter.KindText},
	"kind":    {Field: "kind", Kind: filter.KindCategory},
	"read":    {Field: "read", Kind: filter.KindCategory},
}

type Service struct {
	backend Backend
	notices notice.Reporter
	logger  logger.Logger

	mu    sync.RWMutex
	items []domain.Notification
}

func NewService(b Backend, notices notice.Reporter, log logger.Logger) *Service {
	return &Service{backend: b, notices: notices, logger: log.Named(source)}
}

// Refresh replaces the cache with the backend's notifications.
func (s *Service) Refresh(ctx context.Context) ([]domain.Notification, error) {
	items, err := s.backend.ListNotifications(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()

	metrics.SetCollectionSize(constants.CollectionNotifications, len(items))
	return items, nil
}

func (s *Service) snapshot() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

func (s *Service) Criteria(params map[string]string) filter.Criteria {
	// The inbox offers no expression parameter, so building cannot fail.
	criteria, _ := NotificationSchema.Criteria(withoutExpression(params), nil)
	return criteria
}

func withoutExpression(params map[string]string) map[string]string {
	if _, ok := params[filter.ExpressionParam]; !ok {
		return params
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k != filter.ExpressionParam {
			out[k] = v
		}
	}
	return out
}

func (s *Service) Notifications(ctx context.Context, criteria filter.Criteria) []domain.Notification {
	start := time.Now()
	out := filter.ApplyContext(ctx, s.snapshot(), criteria)
	metrics.ObserveFilterDuration(constants.CollectionNotifications, time.Since(start))
	return out
}

func (s *Service) UnreadCount() int {
	n := 0
	for _, item := range s.snapshot() {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkRead flags notification id as read locally and then on the backend.
// When the backend refuses, the local flag is reverted and a notice is
// reported.
func (s *Service) MarkRead(ctx context.Context, id int64) (domain.Notification, error) {
	prev, ok := s.setRead(id, true)
	if !ok {
		return domain.Notification{}, apperrors.ErrNotFound.WithDetail("notification_id", strconv.FormatInt(id, 10))
	}
	if prev.Read {
		return prev, nil
	}

	if err := s.backend.MarkNotificationRead(ctx, id); err != nil {
		s.setRead(id, false)
		s.notices.Report(ctx, notice.Error(source, strconv.FormatInt(id, 10), err))
		s.logger.WarnwCtx(ctx, "Failed to mark notification read",
			"notification_id", id,
			"error", err,
		)
		return domain.Notification{}, err
	}
	return prev.WithRead(true), nil
}

// setRead returns the notification as it was before the change.
func (s *Service) setRead(id int64, read bool) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if item.ID != id {
			continue
		}
		if item.Read != read {
			next := make([]domain.Notification, len(s.items))
			copy(next, s.items)
			next[i] = item.WithRead(read)
			s.items = next
		}
		return item, true
	}
	return domain.Notification{}, false
}

func (s *Service) Facets(field string) ([]string, error) {
	if !NotificationSchema.Facetable(field) {
		return nil, apperrors.ErrValidation.WithDetail("field", field)
	}
	return filter.DistinctValues(s.snapshot(), field), nil
}
