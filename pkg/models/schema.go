package models

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope field %q: %s", e.Field, e.Message)
}

// Validate reports every missing envelope field. The payload may be empty.
func (msg *MessageEnvelope) Validate() error {
	if msg == nil {
		return &ValidationError{Field: "envelope", Message: "is nil"}
	}

	var errs []error
	required := []struct {
		field string
		empty bool
	}{
		{"id", msg.ID == ""},
		{"type", msg.Type == ""},
		{"source", msg.Source == ""},
		{"timestamp", msg.Timestamp.IsZero()},
	}
	for _, r := range required {
		if r.empty {
			errs = append(errs, &ValidationError{Field: r.field, Message: "is required"})
		}
	}
	return errors.Join(errs...)
}
