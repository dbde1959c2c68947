package models

import "time"

// MessageEnvelope is the wire format of every broker message the console
// produces or consumes.
type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// PartitionKey orders messages about one record; the ID is used when empty.
	PartitionKey string                 `json:"partition_key,omitempty"`
	DLQ          map[string]interface{} `json:"dlq,omitempty"`
}

func (msg MessageEnvelope) Key() string {
	if msg.Metadata.PartitionKey != "" {
		return msg.Metadata.PartitionKey
	}
	return msg.ID
}
