package domain

import "time"

type Notification struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func (n Notification) Key() int64 {
	return n.ID
}

func (n Notification) WithRead(read bool) Notification {
	n.Read = read
	return n
}

func (n Notification) Field(name string) (interface{}, bool) {
	switch name {
	case "id":
		return formatID(n.ID), true
	case "kind":
		return n.Kind, true
	case "message":
		return n.Message, true
	case "read":
		return n.Read, true
	default:
		return nil, false
	}
}

func (n Notification) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":         formatID(n.ID),
		"kind":       n.Kind,
		"message":    n.Message,
		"read":       n.Read,
		"created_at": formatTime(n.CreatedAt),
	}
}
