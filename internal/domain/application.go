package domain

import (
	"fmt"
	"time"
)

type Verdict string

const (
	VerdictPending    Verdict = "pending"
	VerdictAccepted   Verdict = "accepted"
	VerdictRejected   Verdict = "rejected"
	VerdictWaitlisted Verdict = "waitlisted"
)

func (v Verdict) String() string {
	return string(v)
}

func (v Verdict) Valid() bool {
	switch v {
	case VerdictPending, VerdictAccepted, VerdictRejected, VerdictWaitlisted:
		return true
	default:
		return false
	}
}

func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown verdict %q (valid: pending, accepted, rejected, waitlisted)", s)
	}
	return v, nil
}

type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Encrypted   bool   `json:"encrypted"`
}

type Application struct {
	ID            int64        `json:"id"`
	EventID       int64        `json:"event_id"`
	ApplicantName string       `json:"applicant_name"`
	Email         string       `json:"email"`
	Motivation    string       `json:"motivation"`
	Status        Verdict      `json:"status"`
	Comment       string       `json:"comment"`
	Encrypted     bool         `json:"encrypted"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at,omitempty"`
}

func (a Application) Key() int64 {
	return a.ID
}

// WithStatus returns a copy of a carrying the new verdict.
func (a Application) WithStatus(v Verdict) Application {
	next := a.clone()
	next.Status = v
	return next
}

// WithComment returns a copy of a carrying the new organizer comment.
func (a Application) WithComment(comment string) Application {
	next := a.clone()
	next.Comment = comment
	return next
}

func (a Application) clone() Application {
	next := a
	if a.Attachments != nil {
		next.Attachments = make([]Attachment, len(a.Attachments))
		copy(next.Attachments, a.Attachments)
	}
	return next
}

// SameState reports whether the organizer-editable fields are equal.
func (a Application) SameState(b Application) bool {
	return a.ID == b.ID && a.Status == b.Status && a.Comment == b.Comment
}

func (a Application) Field(name string) (interface{}, bool) {
	switch name {
	case "id":
		return formatID(a.ID), true
	case "event_id":
		return formatID(a.EventID), true
	case "applicant", "applicant_name":
		return a.ApplicantName, true
	case "email":
		return a.Email, true
	case "motivation":
		return a.Motivation, true
	case "status":
		if a.Status == "" {
			return nil, false
		}
		return a.Status, true
	case "comment":
		return a.Comment, true
	case "encrypted":
		return a.Encrypted, true
	default:
		return nil, false
	}
}

func (a Application) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":             formatID(a.ID),
		"event_id":       formatID(a.EventID),
		"applicant_name": a.ApplicantName,
		"email":          a.Email,
		"motivation":     a.Motivation,
		"status":         string(a.Status),
		"comment":        a.Comment,
		"encrypted":      a.Encrypted,
		"attachments":    int64(len(a.Attachments)),
	}
}
