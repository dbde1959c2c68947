package catalog

import (
	"context"

	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/models"
)

// HandleEventChanged keeps the cache in step with event_changed messages.
// A message without an event ID, or with the reload action, reloads the
// whole list.
func (s *Service) HandleEventChanged(ctx context.Context, msg models.MessageEnvelope) error {
	change, err := models.DecodeEventChanged(msg)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Ignoring malformed event update", "id", msg.ID, "error", err)
		return nil
	}

	if change.EventID == 0 || change.Action == models.ActionReload {
		return s.ReloadEvents(ctx, true)
	}

	if change.Action == models.ActionDelete {
		if s.remove(change.EventID) {
			s.logger.InfowCtx(ctx, "Removed event", "event_id", change.EventID)
		}
		return nil
	}

	ev, err := s.backend.GetEvent(ctx, change.EventID)
	if apperrors.IsNotFound(err) {
		s.remove(change.EventID)
		return nil
	}
	if err != nil {
		return err
	}

	s.upsert(ev)
	s.logger.InfowCtx(ctx, "Refreshed event", "event_id", change.EventID, "action", change.Action)
	return nil
}
