package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/backend"
	"eventdesk/internal/coalescer"
	"eventdesk/internal/coalescer/coalescertest"
	"eventdesk/internal/config"
	"eventdesk/internal/domain"
	"eventdesk/internal/logger"
	"eventdesk/internal/notice"
	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/models"
)

const delay = 400 * time.Millisecond

type patchCall struct {
	id    int64
	patch backend.ApplicationPatch
}

type fakeBackend struct {
	mu       sync.Mutex
	apps     []domain.Application
	patches  []patchCall
	fail     map[int64]error
	onUpdate func(id int64)
}

func (f *fakeBackend) ListApplications(_ context.Context, eventID int64) ([]domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Application, 0, len(f.apps))
	for _, a := range f.apps {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeBackend) UpdateApplication(_ context.Context, id int64, patch backend.ApplicationPatch) (domain.Application, error) {
	f.mu.Lock()
	f.patches = append(f.patches, patchCall{id: id, patch: patch})
	hook := f.onUpdate
	err := f.fail[id]
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return domain.Application{ID: id}, err
}

func (f *fakeBackend) calls() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patchCall(nil), f.patches...)
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []models.MessageEnvelope
}

func (p *fakeProducer) Publish(_ context.Context, _ string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

type fixture struct {
	svc      *Service
	backend  *fakeBackend
	producer *fakeProducer
	notices  *notice.Recorder
	clock    *coalescertest.Clock
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{apps: []domain.Application{
			{ID: 1, EventID: 10, ApplicantName: "Ada Lovelace", Email: "ada@example.com", Status: domain.VerdictPending},
			{ID: 2, EventID: 10, ApplicantName: "Alan Turing", Email: "alan@example.com", Status: domain.VerdictPending},
			{ID: 3, EventID: 10, ApplicantName: "Grace Hopper", Email: "grace@example.com", Status: domain.VerdictAccepted},
			{ID: 4, EventID: 11, ApplicantName: "Elsewhere", Status: domain.VerdictPending},
		}},
		producer: &fakeProducer{},
		notices:  notice.NewRecorder(10),
		clock:    coalescertest.NewClock(),
	}

	f.svc = NewService(
		f.backend,
		NewPublisher(f.producer, "application_verdicts"),
		f.notices,
		config.ReviewConfig{OnCommitError: policy, FlushOnShutdown: true, MaxCommentLength: 20},
		config.CoalescerConfig{DelayMilliseconds: int(delay / time.Millisecond)},
		nil,
		logger.NopLogger(),
		coalescer.WithClock(f.clock),
	)
	t.Cleanup(func() { _ = f.svc.Close(context.Background()) })

	_, err := f.svc.Load(context.Background(), 10)
	require.NoError(t, err)
	return f
}

func strPtr(s string) *string { return &s }

func statusPatch(v string) Patch { return Patch{Status: strPtr(v)} }

func (f *fixture) status(t *testing.T, id int64) domain.Verdict {
	t.Helper()
	app, ok := f.svc.Application(id)
	require.True(t, ok)
	return app.Status
}

func TestEditBurstCommitsOnce(t *testing.T) {
	f := newFixture(t, "keep")
	ctx := context.Background()

	for _, v := range []string{"accepted", "rejected", "waitlisted"} {
		app, err := f.svc.Edit(ctx, 1, statusPatch(v))
		require.NoError(t, err)
		assert.Equal(t, domain.Verdict(v), app.Status)
		f.clock.Advance(100 * time.Millisecond)
	}
	_, err := f.svc.Edit(ctx, 1, Patch{Comment: strPtr("strong cv")})
	require.NoError(t, err)

	assert.Empty(t, f.backend.calls())
	assert.Equal(t, domain.VerdictWaitlisted, f.status(t, 1))

	f.clock.Advance(delay)

	calls := f.backend.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(1), calls[0].id)
	assert.Equal(t, domain.VerdictWaitlisted, *calls[0].patch.Status)
	assert.Equal(t, "strong cv", *calls[0].patch.Comment)

	require.Len(t, f.producer.msgs, 1)
	msg := f.producer.msgs[0]
	assert.Equal(t, models.EventTypeApplicationVerdictChanged, msg.Type)
	assert.Equal(t, "1", msg.Key())
	assert.Equal(t, "waitlisted", msg.Payload["status"])
	assert.Equal(t, 0, f.svc.PendingCount())
}

func TestEditsForDifferentApplicationsAreIndependent(t *testing.T) {
	f := newFixture(t, "keep")
	f.backend.fail = map[int64]error{1: apperrors.ErrConflict}
	ctx := context.Background()

	_, err := f.svc.Edit(ctx, 1, statusPatch("accepted"))
	require.NoError(t, err)
	_, err = f.svc.Edit(ctx, 2, statusPatch("rejected"))
	require.NoError(t, err)

	f.clock.Advance(delay)

	assert.Len(t, f.backend.calls(), 2)
	assert.Len(t, f.producer.msgs, 1)
	assert.Equal(t, "2", f.producer.msgs[0].Key())

	notices := f.notices.List()
	require.Len(t, notices, 1)
	assert.Equal(t, "1", notices[0].Subject)
	assert.Equal(t, notice.SeverityError, notices[0].Severity)
}

func TestCommitFailureKeepsLocalEdit(t *testing.T) {
	f := newFixture(t, "keep")
	f.backend.fail = map[int64]error{1: apperrors.ErrServiceUnavailable}

	_, err := f.svc.Edit(context.Background(), 1, statusPatch("accepted"))
	require.NoError(t, err)
	f.clock.Advance(delay)

	assert.Equal(t, domain.VerdictAccepted, f.status(t, 1))
	assert.Len(t, f.notices.List(), 1)
	assert.Len(t, f.backend.calls(), 1, "failed commits are not retried")

	f.clock.Advance(time.Hour)
	assert.Len(t, f.backend.calls(), 1)
}

func TestCommitFailureRollsBack(t *testing.T) {
	f := newFixture(t, "rollback")
	f.backend.fail = map[int64]error{1: apperrors.ErrServiceUnavailable}

	_, err := f.svc.Edit(context.Background(), 1, statusPatch("accepted"))
	require.NoError(t, err)
	f.clock.Advance(delay)

	assert.Equal(t, domain.VerdictPending, f.status(t, 1))
	assert.Len(t, f.notices.List(), 1)
}

func TestRollbackSkippedWhenNewerEditPending(t *testing.T) {
	f := newFixture(t, "rollback")
	f.backend.fail = map[int64]error{1: apperrors.ErrServiceUnavailable}

	var once sync.Once
	f.backend.onUpdate = func(id int64) {
		once.Do(func() {
			_, err := f.svc.Edit(context.Background(), id, statusPatch("rejected"))
			assert.NoError(t, err)
		})
	}

	_, err := f.svc.Edit(context.Background(), 1, statusPatch("accepted"))
	require.NoError(t, err)
	f.clock.Advance(delay)

	assert.Equal(t, domain.VerdictRejected, f.status(t, 1))
	assert.Equal(t, 1, f.svc.PendingCount())
}

func TestRollbackSkippedWhenNewerCommitQueued(t *testing.T) {
	f := newFixture(t, "rollback")
	f.backend.fail = map[int64]error{1: apperrors.ErrServiceUnavailable}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.backend.onUpdate = func(int64) {
		once.Do(func() {
			close(started)
			<-release
			f.backend.mu.Lock()
			f.backend.fail = nil
			f.backend.mu.Unlock()
		})
	}

	ctx := context.Background()
	_, err := f.svc.Edit(ctx, 1, statusPatch("accepted"))
	require.NoError(t, err)

	firstDone := make(chan struct{})
	go func() {
		f.clock.Advance(delay)
		close(firstDone)
	}()
	<-started

	_, err = f.svc.Edit(ctx, 1, statusPatch("rejected"))
	require.NoError(t, err)

	secondDone := make(chan struct{})
	go func() {
		f.clock.Advance(delay)
		close(secondDone)
	}()
	require.Eventually(t, func() bool {
		return f.svc.PendingCount() == 0
	}, time.Second, time.Millisecond)

	close(release)
	<-firstDone
	<-secondDone

	calls := f.backend.calls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[1].patch.Status)
	assert.Equal(t, domain.VerdictRejected, *calls[1].patch.Status)
	assert.Equal(t, domain.VerdictRejected, f.status(t, 1))
	assert.Len(t, f.notices.List(), 1)
}

func TestEditValidation(t *testing.T) {
	f := newFixture(t, "keep")
	ctx := context.Background()

	tests := []struct {
		name  string
		id    int64
		patch Patch
		check func(error) bool
	}{
		{name: "empty patch", id: 1, patch: Patch{}, check: apperrors.IsValidation},
		{name: "unknown verdict", id: 1, patch: statusPatch("maybe"), check: apperrors.IsValidation},
		{name: "comment too long", id: 1, patch: Patch{Comment: strPtr("this comment is far too long")}, check: apperrors.IsValidation},
		{name: "unknown application", id: 99, patch: statusPatch("accepted"), check: apperrors.IsNotFound},
		{name: "application of another event", id: 4, patch: statusPatch("accepted"), check: apperrors.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Edit(ctx, tt.id, tt.patch)
			require.Error(t, err)
			assert.True(t, tt.check(err))
		})
	}
	assert.Equal(t, 0, f.svc.PendingCount())
}

func TestNoOpEditSchedulesNothing(t *testing.T) {
	f := newFixture(t, "keep")

	_, err := f.svc.Edit(context.Background(), 3, statusPatch("accepted"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.svc.PendingCount())
}

func TestDiscardRestoresAcknowledgedValue(t *testing.T) {
	f := newFixture(t, "keep")

	_, err := f.svc.Edit(context.Background(), 1, statusPatch("accepted"))
	require.NoError(t, err)

	assert.True(t, f.svc.Discard(1))
	assert.False(t, f.svc.Discard(1))
	assert.Equal(t, domain.VerdictPending, f.status(t, 1))

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.backend.calls())
}

func TestFlushCommitsImmediately(t *testing.T) {
	f := newFixture(t, "rollback")
	ctx := context.Background()

	_, err := f.svc.Edit(ctx, 2, statusPatch("accepted"))
	require.NoError(t, err)
	flushed, err := f.svc.Flush(ctx, 2)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Len(t, f.backend.calls(), 1)

	flushed, err = f.svc.Flush(ctx, 2)
	require.NoError(t, err)
	assert.False(t, flushed)

	f.backend.fail = map[int64]error{1: apperrors.ErrConflict}
	_, err = f.svc.Edit(ctx, 1, statusPatch("rejected"))
	require.NoError(t, err)
	_, err = f.svc.Flush(ctx, 1)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, domain.VerdictPending, f.status(t, 1))
	assert.Len(t, f.notices.List(), 1)
}

func TestCloseFlushesPendingEdits(t *testing.T) {
	f := newFixture(t, "keep")

	_, err := f.svc.Edit(context.Background(), 1, statusPatch("accepted"))
	require.NoError(t, err)
	_, err = f.svc.Edit(context.Background(), 2, statusPatch("rejected"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(context.Background()))
	assert.Len(t, f.backend.calls(), 2)

	_, err = f.svc.Edit(context.Background(), 3, statusPatch("rejected"))
	assert.Error(t, err)
}

func TestCloseReportsFlushErrors(t *testing.T) {
	f := newFixture(t, "keep")
	boom := errors.New("backend down")
	f.backend.fail = map[int64]error{1: boom}

	_, err := f.svc.Edit(context.Background(), 1, statusPatch("accepted"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Close(context.Background()), boom)
}

func TestLoadKeepsPendingEditsVisible(t *testing.T) {
	f := newFixture(t, "keep")
	ctx := context.Background()

	_, err := f.svc.Edit(ctx, 1, statusPatch("accepted"))
	require.NoError(t, err)

	apps, err := f.svc.Load(ctx, 10)
	require.NoError(t, err)
	require.Len(t, apps, 3)
	assert.Equal(t, domain.VerdictAccepted, apps[0].Status)
	assert.Equal(t, int64(10), f.svc.EventID())
}

func TestApplicationsFilterAndFacets(t *testing.T) {
	f := newFixture(t, "keep")
	ctx := context.Background()

	criteria, err := f.svc.Criteria(map[string]string{"applicant": "a", "status": "pending"})
	require.NoError(t, err)
	got := f.svc.Applications(ctx, criteria)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)

	_, err = f.svc.Edit(ctx, 2, statusPatch("rejected"))
	require.NoError(t, err)

	values, err := f.svc.Facets("status")
	require.NoError(t, err)
	assert.Equal(t, []string{"pending", "rejected", "accepted"}, values)

	_, err = f.svc.Facets("email")
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.Criteria(map[string]string{"expr": "true"})
	assert.True(t, apperrors.IsValidation(err), "expressions need an evaluator")
}

func TestPublisherWithoutProducerIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.Publish(context.Background(), domain.Application{ID: 1}))
	assert.NoError(t, NewPublisher(nil, "topic").Publish(context.Background(), domain.Application{ID: 1}))
}
