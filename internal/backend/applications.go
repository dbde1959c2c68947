package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"eventdesk/internal/domain"
	apperrors "eventdesk/pkg/errors"
)

// ApplicationForm is the applicant-entered part of a submission.
type ApplicationForm struct {
	ApplicantName string `json:"applicant_name"`
	Email         string `json:"email"`
	Motivation    string `json:"motivation"`
	// Encrypt asks the backend to store the attachments encrypted.
	Encrypt bool `json:"encrypt"`
}

// Upload is one attachment file.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ApplicationPatch carries the organizer-editable fields. Nil fields are
// left unchanged by the backend.
type ApplicationPatch struct {
	Status  *domain.Verdict `json:"status,omitempty"`
	Comment *string         `json:"comment,omitempty"`
}

// PatchFrom sends the full editable state of a.
func PatchFrom(a domain.Application) ApplicationPatch {
	status := a.Status
	comment := a.Comment
	return ApplicationPatch{Status: &status, Comment: &comment}
}

func (c *Client) ListApplications(ctx context.Context, eventID int64) ([]domain.Application, error) {
	var apps []domain.Application
	err := c.list(ctx, "list_applications", fmt.Sprintf("/events/%d/applications", eventID), func(raw json.RawMessage) error {
		var err error
		apps, err = decodeList[domain.Application](raw)
		return err
	})
	return apps, err
}

// UpdateApplication sends patch and returns the backend's view of the
// application afterwards.
func (c *Client) UpdateApplication(ctx context.Context, id int64, patch ApplicationPatch) (domain.Application, error) {
	req, err := jsonRequest("update_application", http.MethodPatch, fmt.Sprintf("/applications/%d", id), patch)
	if err != nil {
		return domain.Application{}, err
	}

	var app domain.Application
	if err := c.do(ctx, req, &app); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

// SubmitApplication uploads a new application for eventID as a multipart
// form: one field per form value, one "attachments" part per file.
func (c *Client) SubmitApplication(ctx context.Context, eventID int64, form ApplicationForm, files []Upload) (domain.Application, error) {
	body, contentType, err := encodeSubmission(form, files)
	if err != nil {
		return domain.Application{}, apperrors.ErrInternal.WithCause(err).AsFatal()
	}

	var app domain.Application
	err = c.do(ctx, request{
		operation:   "submit_application",
		method:      http.MethodPost,
		path:        fmt.Sprintf("/events/%d/applications", eventID),
		body:        body,
		contentType: contentType,
	}, &app)
	return app, err
}

func encodeSubmission(form ApplicationForm, files []Upload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"applicant_name", form.ApplicantName},
		{"email", form.Email},
		{"motivation", form.Motivation},
		{"encrypt", strconv.FormatBool(form.Encrypt)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments"; filename=%q`, f.FileName))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
