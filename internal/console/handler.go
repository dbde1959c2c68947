// Package console serves the JSON API the event desk UI talks to.
package console

import (
	"context"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventdesk/internal/backend"
	"eventdesk/internal/domain"
	"eventdesk/internal/filter"
	"eventdesk/internal/logger"
	"eventdesk/internal/notice"
	"eventdesk/internal/review"
	"eventdesk/pkg/errors"
)

type Catalog interface {
	Criteria(params map[string]string) (filter.Criteria, error)
	Events(ctx context.Context, criteria filter.Criteria) []domain.Event
	Facets(field string) ([]string, error)
	Event(ctx context.Context, id int64) (domain.Event, error)
	Submit(ctx context.Context, eventID int64, form backend.ApplicationForm, files []backend.Upload) (domain.Application, error)
}

type Review interface {
	Load(ctx context.Context, eventID int64) ([]domain.Application, error)
	Criteria(params map[string]string) (filter.Criteria, error)
	Applications(ctx context.Context, criteria filter.Criteria) []domain.Application
	Facets(field string) ([]string, error)
	Edit(ctx context.Context, id int64, patch review.Patch) (domain.Application, error)
	Flush(ctx context.Context, id int64) (bool, error)
	Discard(id int64) bool
}

type Inbox interface {
	Refresh(ctx context.Context) ([]domain.Notification, error)
	Criteria(params map[string]string) filter.Criteria
	Notifications(ctx context.Context, criteria filter.Criteria) []domain.Notification
	UnreadCount() int
	Facets(field string) ([]string, error)
	MarkRead(ctx context.Context, id int64) (domain.Notification, error)
}

type Tokens interface {
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type Notices interface {
	List() []notice.Notice
	Drain() []notice.Notice
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type NotificationsResponse struct {
	ListResponse[domain.Notification]
	Unread int `json:"unread"`
}

type FacetResponse struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

type SessionRequest struct {
	Token string `json:"token" binding:"required"`
}

type Handler struct {
	Catalog Catalog
	Review  Review
	Inbox   Inbox
	Tokens  Tokens
	Notices Notices
	Logger  logger.Logger

	// MaxUploadBytes bounds the multipart body kept in memory per request.
	MaxUploadBytes int64
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.PUT("/session", h.PutSession)
		v1.DELETE("/session", h.DeleteSession)

		events := v1.Group("/events")
		{
			events.GET("", h.ListEvents)
			events.GET("/facets/:field", h.EventFacets)
			events.GET("/:id", h.GetEvent)
			events.POST("/:id/applications", h.SubmitApplication)
			events.POST("/:id/review", h.LoadReview)
		}

		apps := v1.Group("/review/applications")
		{
			apps.GET("", h.ListApplications)
			apps.GET("/facets/:field", h.ApplicationFacets)
			apps.PATCH("/:id", h.EditApplication)
			apps.POST("/:id/flush", h.FlushApplication)
			apps.DELETE("/:id/pending", h.DiscardApplication)
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", h.ListNotifications)
			notifications.GET("/facets/:field", h.NotificationFacets)
			notifications.POST("/:id/read", h.MarkNotificationRead)
		}

		v1.GET("/notices", h.ListNotices)
	}
}

func queryParams(c *gin.Context) map[string]string {
	query := c.Request.URL.Query()
	params := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

func pathID(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrValidation.WithDetail("id", raw)
	}
	return id, nil
}

func list[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: len(items)}
}

func (h *Handler) PutSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}
	if err := h.Tokens.SetToken(c.Request.Context(), req.Token); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.Tokens.Clear(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListEvents(c *gin.Context) {
	criteria, err := h.Catalog.Criteria(queryParams(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list(h.Catalog.Events(c.Request.Context(), criteria)))
}

func (h *Handler) EventFacets(c *gin.Context) {
	field := c.Param("field")
	values, err := h.Catalog.Facets(field)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, FacetResponse{Field: field, Values: values})
}

func (h *Handler) GetEvent(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	ev, err := h.Catalog.Event(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// SubmitApplication accepts a multipart form with applicant_name, email,
// motivation, an optional encrypt flag and any number of "attachments"
// files.
func (h *Handler) SubmitApplication(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		h.HandleError(c, formError(err, h.MaxUploadBytes))
		return
	}

	encrypt, _ := strconv.ParseBool(c.PostForm("encrypt"))
	submission := backend.ApplicationForm{
		ApplicantName: c.PostForm("applicant_name"),
		Email:         c.PostForm("email"),
		Motivation:    c.PostForm("motivation"),
		Encrypt:       encrypt,
	}

	uploads, err := readUploads(form.File["attachments"])
	if err != nil {
		h.HandleError(c, err)
		return
	}

	app, err := h.Catalog.Submit(c.Request.Context(), id, submission, uploads)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

func formError(err error, limit int64) *errors.Error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.ErrPayloadTooLarge.WithCause(err).WithDetail("limit_bytes", limit)
	}
	return errors.ErrValidation.WithCause(err).WithDetail("reason", "expected a multipart form")
}

func readUploads(files []*multipart.FileHeader) ([]backend.Upload, error) {
	uploads := make([]backend.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, errors.ErrValidation.WithCause(err).WithDetail("file", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errors.ErrValidation.WithCause(err).WithDetail("file", fh.Filename)
		}
		uploads = append(uploads, backend.Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, nil
}

func (h *Handler) LoadReview(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	apps, err := h.Review.Load(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list(apps))
}

func (h *Handler) ListApplications(c *gin.Context) {
	criteria, err := h.Review.Criteria(queryParams(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list(h.Review.Applications(c.Request.Context(), criteria)))
}

func (h *Handler) ApplicationFacets(c *gin.Context) {
	field := c.Param("field")
	values, err := h.Review.Facets(field)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, FacetResponse{Field: field, Values: values})
}

// EditApplication answers 202: the edit is applied locally and its commit
// is still pending.
func (h *Handler) EditApplication(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	var patch review.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	app, err := h.Review.Edit(c.Request.Context(), id, patch)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, app)
}

func (h *Handler) FlushApplication(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	flushed, err := h.Review.Flush(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": flushed})
}

func (h *Handler) DiscardApplication(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !h.Review.Discard(id) {
		h.HandleError(c, errors.ErrNotFound.WithDetail("reason", "no pending edit"))
		return
	}
	c.Status(http.StatusNoContent)
}

// ListNotifications refreshes the inbox before filtering it.
func (h *Handler) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.Inbox.Refresh(ctx); err != nil {
		h.HandleError(c, err)
		return
	}

	items := h.Inbox.Notifications(ctx, h.Inbox.Criteria(queryParams(c)))
	c.JSON(http.StatusOK, NotificationsResponse{
		ListResponse: list(items),
		Unread:       h.Inbox.UnreadCount(),
	})
}

func (h *Handler) NotificationFacets(c *gin.Context) {
	if _, err := h.Inbox.Refresh(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}

	field := c.Param("field")
	values, err := h.Inbox.Facets(field)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, FacetResponse{Field: field, Values: values})
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	n, err := h.Inbox.MarkRead(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// ListNotices returns recorded notices; ?drain=true also clears them.
func (h *Handler) ListNotices(c *gin.Context) {
	var items []notice.Notice
	if drain, _ := strconv.ParseBool(c.Query("drain")); drain {
		items = h.Notices.Drain()
	} else {
		items = h.Notices.List()
	}
	c.JSON(http.StatusOK, list(items))
}
