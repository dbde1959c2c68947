package console

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/backend"
	"eventdesk/internal/catalog"
	"eventdesk/internal/coalescer"
	"eventdesk/internal/coalescer/coalescertest"
	"eventdesk/internal/config"
	"eventdesk/internal/domain"
	"eventdesk/internal/inbox"
	"eventdesk/internal/logger"
	"eventdesk/internal/notice"
	"eventdesk/internal/review"
	"eventdesk/internal/session"
	"eventdesk/pkg/cel"
	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/middleware"
	"eventdesk/pkg/retry"
)

// platform is a fake of the backend REST API.
type platform struct {
	mu        sync.Mutex
	auth      []string
	patches   map[int64]int
	submitted map[string]string
	markFails bool
}

func (p *platform) handler() http.Handler {
	events := []domain.Event{
		{ID: 1, Title: "Conference A", Type: "conference", Location: "Berlin", RegistrationOpen: true},
		{ID: 2, Title: "Seminar B", Type: "seminar", Location: "Online", RegistrationOpen: true, RequiresEncryption: true},
	}
	apps := []domain.Application{
		{ID: 11, EventID: 1, ApplicantName: "Ada", Status: domain.VerdictPending},
		{ID: 12, EventID: 1, ApplicantName: "Alan", Status: domain.VerdictPending},
	}

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	track := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p.mu.Lock()
			p.auth = append(p.auth, r.Header.Get("Authorization"))
			p.mu.Unlock()
			next(w, r)
		}
	}

	mux.HandleFunc("GET /events", track(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, events)
	}))
	mux.HandleFunc("GET /events/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such event"})
	}))
	mux.HandleFunc("GET /events/{id}/applications", track(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": apps})
	}))
	mux.HandleFunc("POST /events/{id}/applications", track(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.submitted = map[string]string{
			"applicant_name": r.FormValue("applicant_name"),
			"encrypt":        r.FormValue("encrypt"),
			"attachments":    strconv.Itoa(len(r.MultipartForm.File["attachments"])),
		}
		p.mu.Unlock()
		writeJSON(w, http.StatusCreated, domain.Application{ID: 99, ApplicantName: r.FormValue("applicant_name")})
	}))
	mux.HandleFunc("PATCH /applications/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		p.mu.Lock()
		p.patches[id]++
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, domain.Application{ID: id})
	}))
	mux.HandleFunc("GET /notifications", track(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []domain.Notification{
			{ID: 1, Kind: "verdict", Message: "You were accepted"},
			{ID: 2, Kind: "event", Message: "Room changed", Read: true},
		})
	}))
	mux.HandleFunc("POST /notifications/{id}/read", track(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		fail := p.markFails
		p.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return mux
}

type testEnv struct {
	router   *gin.Engine
	platform *platform
	clock    *coalescertest.Clock
}

func newTestEnv(t *testing.T, opts ...func(*Handler)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := &platform{patches: make(map[int64]int)}
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)

	log := logger.NopLogger()
	tokens := session.NewTokens(session.NewMemoryStore(time.Hour))
	client := backend.New(srv.URL, tokens,
		backend.WithHTTPClient(srv.Client()),
		backend.WithRetryPolicy(retry.Policy{MaxAttempts: 1}),
	)

	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)

	recorder := notice.NewRecorder(10)
	clock := coalescertest.NewClock()

	cat := catalog.NewService(client, config.CatalogConfig{ExpressionsEnabled: true}, catalog.Limits{MaxAttachments: 3}, evaluator, log)
	require.NoError(t, cat.ReloadEvents(context.Background(), true))

	rev := review.NewService(client, nil, recorder,
		config.ReviewConfig{OnCommitError: "keep"},
		config.CoalescerConfig{DelayMilliseconds: 400},
		evaluator, log, coalescer.WithClock(clock))
	t.Cleanup(func() { _ = rev.Close(context.Background()) })

	h := &Handler{
		Catalog: cat,
		Review:  rev,
		Inbox:   inbox.NewService(client, recorder, log),
		Tokens:  tokens,
		Notices: recorder,
		Logger:  log,
	}
	for _, opt := range opts {
		opt(h)
	}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	h.RegisterRoutes(router)

	return &testEnv{router: router, platform: p, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSessionTokenReachesBackend(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/session", `{"token":"Bearer abc"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)

	env.platform.mu.Lock()
	last := env.platform.auth[len(env.platform.auth)-1]
	env.platform.mu.Unlock()
	assert.Equal(t, "Bearer abc", last)

	w = env.do(t, http.MethodPut, "/api/v1/session", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/session", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/events?title=CONF", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ListResponse[domain.Event]](t, w)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "Conference A", resp.Items[0].Title)

	w = env.do(t, http.MethodGet, "/api/v1/events?location=Nowhere", "")
	resp = decode[ListResponse[domain.Event]](t, w)
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Items)

	w = env.do(t, http.MethodGet, "/api/v1/events?expr=record.title+%3D%3D", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventFacetsAndLookup(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/events/facets/type", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, FacetResponse{Field: "type", Values: []string{"conference", "seminar"}}, decode[FacetResponse](t, w))

	w = env.do(t, http.MethodGet, "/api/v1/events/facets/title", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/events/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Seminar B", decode[domain.Event](t, w).Title)

	w = env.do(t, http.MethodGet, "/api/v1/events/7", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/events/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitApplication(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("applicant_name", "Ada"))
	require.NoError(t, mw.WriteField("email", "ada@example.com"))
	part, err := mw.CreateFormFile("attachments", "cv.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF-1.7"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/2/applications", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(99), decode[domain.Application](t, w).ID)

	env.platform.mu.Lock()
	defer env.platform.mu.Unlock()
	assert.Equal(t, "Ada", env.platform.submitted["applicant_name"])
	assert.Equal(t, "true", env.platform.submitted["encrypt"])
	assert.Equal(t, "1", env.platform.submitted["attachments"])
}

func TestSubmitApplicationRequiresMultipart(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/events/1/applications", `{"applicant_name":"Ada"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitApplicationOverUploadLimit(t *testing.T) {
	env := newTestEnv(t, func(h *Handler) { h.MaxUploadBytes = 1024 })

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("applicant_name", "Ada"))
	part, err := mw.CreateFormFile("attachments", "cv.pdf")
	require.NoError(t, err)
	_, _ = part.Write(bytes.Repeat([]byte("x"), 64<<10))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/2/applications", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Equal(t, apperrors.ErrPayloadTooLarge.Code, decode[apperrors.ErrorResponse](t, w).ErrorCode)

	env.platform.mu.Lock()
	defer env.platform.mu.Unlock()
	assert.Empty(t, env.platform.submitted)
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/events/1/review", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[ListResponse[domain.Application]](t, w).Total)

	w = env.do(t, http.MethodPatch, "/api/v1/review/applications/11", `{"status":"accepted"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, domain.VerdictAccepted, decode[domain.Application](t, w).Status)

	w = env.do(t, http.MethodPatch, "/api/v1/review/applications/11", `{"comment":"great fit"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/review/applications?status=accepted", "")
	resp := decode[ListResponse[domain.Application]](t, w)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "great fit", resp.Items[0].Comment)

	w = env.do(t, http.MethodGet, "/api/v1/review/applications/facets/status", "")
	assert.Equal(t, []string{"accepted", "pending"}, decode[FacetResponse](t, w).Values)

	env.platform.mu.Lock()
	assert.Zero(t, env.platform.patches[11])
	env.platform.mu.Unlock()

	w = env.do(t, http.MethodPost, "/api/v1/review/applications/11/flush", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"flushed": true}, decode[map[string]bool](t, w))

	env.platform.mu.Lock()
	assert.Equal(t, 1, env.platform.patches[11])
	env.platform.mu.Unlock()

	w = env.do(t, http.MethodDelete, "/api/v1/review/applications/11/pending", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewDebouncedCommit(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/events/1/review", "").Code)

	for _, status := range []string{"accepted", "rejected", "waitlisted"} {
		w := env.do(t, http.MethodPatch, "/api/v1/review/applications/12", `{"status":"`+status+`"}`)
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	env.clock.Advance(400 * time.Millisecond)

	env.platform.mu.Lock()
	assert.Equal(t, 1, env.platform.patches[12])
	env.platform.mu.Unlock()
}

func TestReviewDiscardAndValidation(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/events/1/review", "").Code)

	w := env.do(t, http.MethodPatch, "/api/v1/review/applications/11", `{"status":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/review/applications/11", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/review/applications/404", `{"status":"accepted"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPatch, "/api/v1/review/applications/11", `{"status":"rejected"}`).Code)
	w = env.do(t, http.MethodDelete, "/api/v1/review/applications/11/pending", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	env.clock.Advance(time.Hour)
	env.platform.mu.Lock()
	assert.Zero(t, env.platform.patches[11])
	env.platform.mu.Unlock()
}

func TestNotificationFacets(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/notifications/facets/kind", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, FacetResponse{Field: "kind", Values: []string{"verdict", "event"}}, decode[FacetResponse](t, w))

	w = env.do(t, http.MethodGet, "/api/v1/notifications/facets/message", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/notifications?read=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[NotificationsResponse](t, w)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 1, resp.Unread)

	w = env.do(t, http.MethodPost, "/api/v1/notifications/1/read", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[domain.Notification](t, w).Read)

	env.platform.mu.Lock()
	env.platform.markFails = true
	env.platform.mu.Unlock()

	w = env.do(t, http.MethodPost, "/api/v1/notifications/1/read", "")
	require.Equal(t, http.StatusOK, w.Code, "already read locally, backend not called")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/notifications", "").Code)
	w = env.do(t, http.MethodPost, "/api/v1/notifications/1/read", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/notices?drain=true", "")
	notices := decode[ListResponse[notice.Notice]](t, w)
	require.Equal(t, 1, notices.Total)
	assert.Equal(t, "inbox", notices.Items[0].Source)

	w = env.do(t, http.MethodGet, "/api/v1/notices", "")
	assert.Equal(t, 0, decode[ListResponse[notice.Notice]](t, w).Total)
}
