package catalog

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"eventdesk/internal/backend"
	"eventdesk/internal/config"
	"eventdesk/internal/domain"
	apperrors "eventdesk/pkg/errors"
)

// Limits bounds what a single submission may upload.
type Limits struct {
	MaxAttachments     int
	MaxAttachmentBytes int64
}

func LimitsFrom(cfg config.BackendConfig) Limits {
	return Limits{MaxAttachments: cfg.MaxAttachments, MaxAttachmentBytes: cfg.MaxAttachmentBytes}
}

// Submit validates an application and forwards it with its attachments.
// Events that require encryption always get the encrypt flag.
func (s *Service) Submit(ctx context.Context, eventID int64, form backend.ApplicationForm, files []backend.Upload) (domain.Application, error) {
	ev, err := s.Event(ctx, eventID)
	if err != nil {
		return domain.Application{}, err
	}
	if !ev.RegistrationOpen {
		return domain.Application{}, apperrors.ErrConflict.
			WithDetail("event_id", formatID(eventID)).
			WithDetail("reason", "registration is closed")
	}

	form.ApplicantName = strings.TrimSpace(form.ApplicantName)
	form.Email = strings.TrimSpace(form.Email)
	if err := validateSubmission(form, files, s.limits); err != nil {
		return domain.Application{}, apperrors.ErrValidation.WithCause(err).WithDetail("reason", err.Error())
	}
	if ev.RequiresEncryption {
		form.Encrypt = true
	}

	app, err := s.backend.SubmitApplication(ctx, eventID, form, files)
	if err != nil {
		return domain.Application{}, err
	}

	s.logger.InfowCtx(ctx, "Application submitted",
		"event_id", eventID,
		"application_id", app.ID,
		"attachments", len(files),
		"encrypt", form.Encrypt,
	)
	return app, nil
}

func validateSubmission(form backend.ApplicationForm, files []backend.Upload, limits Limits) error {
	if form.ApplicantName == "" {
		return fmt.Errorf("applicant_name is required")
	}
	if form.Email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(form.Email); err != nil {
		return fmt.Errorf("email is invalid: %s", form.Email)
	}
	if limits.MaxAttachments > 0 && len(files) > limits.MaxAttachments {
		return fmt.Errorf("too many attachments: %d (max %d)", len(files), limits.MaxAttachments)
	}
	for _, f := range files {
		if f.FileName == "" {
			return fmt.Errorf("attachment file name is required")
		}
		if len(f.Data) == 0 {
			return fmt.Errorf("attachment %s is empty", f.FileName)
		}
		if limits.MaxAttachmentBytes > 0 && int64(len(f.Data)) > limits.MaxAttachmentBytes {
			return fmt.Errorf("attachment %s exceeds %d bytes", f.FileName, limits.MaxAttachmentBytes)
		}
	}
	return nil
}
