package models

import (
	"fmt"
	"time"
)

const (
	EventTypeApplicationVerdictChanged = "application_verdict_changed"
	EventTypeEventChanged              = "event_changed"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionReload = "reload"
)

// VerdictChanged is published after the backend acknowledged an
// organizer's edit to an application.
type VerdictChanged struct {
	ApplicationID int64     `json:"application_id"`
	EventID       int64     `json:"event_id"`
	Status        string    `json:"status"`
	Comment       string    `json:"comment,omitempty"`
	CommittedAt   time.Time `json:"committed_at"`
}

func (v VerdictChanged) Payload() map[string]interface{} {
	return map[string]interface{}{
		"application_id": v.ApplicationID,
		"event_id":       v.EventID,
		"status":         v.Status,
		"comment":        v.Comment,
		"committed_at":   v.CommittedAt.UTC().Format(time.RFC3339),
	}
}

// EventChanged announces that the platform modified an event.
type EventChanged struct {
	EventID int64  `json:"event_id,omitempty"`
	Action  string `json:"action"`
}

// DecodeEventChanged reads an event_changed payload. A missing event_id
// means the whole catalog changed.
func DecodeEventChanged(msg MessageEnvelope) (EventChanged, error) {
	if msg.Type != EventTypeEventChanged {
		return EventChanged{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}

	var ev EventChanged
	if action, ok := msg.Payload["action"].(string); ok {
		ev.Action = action
	}
	if ev.Action == "" {
		ev.Action = ActionReload
	}

	switch id := msg.Payload["event_id"].(type) {
	case nil:
	case float64:
		ev.EventID = int64(id)
	case int64:
		ev.EventID = id
	case int:
		ev.EventID = int64(id)
	default:
		return EventChanged{}, fmt.Errorf("event_id has unexpected type %T", id)
	}
	return ev, nil
}
