package domain

import "time"

type EventFormat string

const (
	FormatOnline  EventFormat = "online"
	FormatOffline EventFormat = "offline"
	FormatHybrid  EventFormat = "hybrid"
)

type Event struct {
	ID                 int64       `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Type               string      `json:"type"`
	Format             EventFormat `json:"format"`
	Location           string      `json:"location"`
	Organizer          string      `json:"organizer"`
	StartsAt           time.Time   `json:"starts_at"`
	EndsAt             time.Time   `json:"ends_at,omitempty"`
	RegistrationOpen   bool        `json:"registration_open"`
	RequiresEncryption bool        `json:"requires_encryption"`
}

func (e Event) Key() int64 {
	return e.ID
}

func (e Event) Field(name string) (interface{}, bool) {
	switch name {
	case "id":
		return formatID(e.ID), true
	case "title":
		return e.Title, true
	case "description":
		return e.Description, true
	case "type":
		return e.Type, true
	case "format":
		return string(e.Format), true
	case "location":
		return e.Location, true
	case "organizer":
		return e.Organizer, true
	case "starts_at":
		return formatTime(e.StartsAt), !e.StartsAt.IsZero()
	case "registration_open":
		return e.RegistrationOpen, true
	case "requires_encryption":
		return e.RequiresEncryption, true
	default:
		return nil, false
	}
}

func (e Event) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":                  formatID(e.ID),
		"title":               e.Title,
		"description":         e.Description,
		"type":                e.Type,
		"format":              string(e.Format),
		"location":            e.Location,
		"organizer":           e.Organizer,
		"starts_at":           formatTime(e.StartsAt),
		"registration_open":   e.RegistrationOpen,
		"requires_encryption": e.RequiresEncryption,
	}
}
