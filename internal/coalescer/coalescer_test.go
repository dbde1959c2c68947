package coalescer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/coalescer"
	"eventdesk/internal/coalescer/coalescertest"
)

type commitCall struct {
	key      int64
	snapshot string
}

type recorder struct {
	mu    sync.Mutex
	calls []commitCall
	fail  map[int64]error
}

func (r *recorder) commit(_ context.Context, key int64, snapshot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, commitCall{key: key, snapshot: snapshot})
	return r.fail[key]
}

func (r *recorder) snapshot() []commitCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]commitCall(nil), r.calls...)
}

func newTestCoalescer(t *testing.T, rec *recorder, opts ...coalescer.Option) (*coalescer.Coalescer[int64, string], *coalescertest.Clock) {
	t.Helper()
	clock := coalescertest.NewClock()
	opts = append([]coalescer.Option{coalescer.WithClock(clock), coalescer.WithDelay(400 * time.Millisecond), coalescer.WithName(t.Name())}, opts...)
	c := coalescer.New[int64, string](rec.commit, opts...)
	t.Cleanup(c.Close)
	return c, clock
}

func TestScheduleCoalescesBurstIntoOneCommit(t *testing.T) {
	rec := &recorder{}
	c, clock := newTestCoalescer(t, rec)

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, c.Schedule(7, v))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, rec.snapshot())
	assert.True(t, c.Pending(7))

	clock.Advance(399 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	clock.Advance(time.Millisecond)
	assert.Equal(t, []commitCall{{key: 7, snapshot: "c"}}, rec.snapshot())
	assert.False(t, c.Pending(7))
	assert.Equal(t, 0, c.Len())

	clock.Advance(time.Hour)
	assert.Len(t, rec.snapshot(), 1)
}

func TestIdentitiesCommitIndependently(t *testing.T) {
	rec := &recorder{}
	c, clock := newTestCoalescer(t, rec)

	require.NoError(t, c.Schedule(1, "x1"))
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, c.Schedule(2, "y1"))
	assert.Equal(t, 2, c.Len())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, []commitCall{{key: 1, snapshot: "x1"}}, rec.snapshot())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, []commitCall{{key: 1, snapshot: "x1"}, {key: 2, snapshot: "y1"}}, rec.snapshot())
}

func TestCancelBeforeDelayPreventsCommit(t *testing.T) {
	rec := &recorder{}
	c, clock := newTestCoalescer(t, rec)

	require.NoError(t, c.Schedule(3, "draft"))
	clock.Advance(100 * time.Millisecond)
	assert.True(t, c.Cancel(3))
	assert.False(t, c.Cancel(3))

	clock.Advance(time.Second)
	assert.Empty(t, rec.snapshot())
	assert.False(t, c.Pending(3))
}

func TestStaleTimerAfterCancelDoesNotCommit(t *testing.T) {
	rec := &recorder{}
	c, clock := newTestCoalescer(t, rec)

	require.NoError(t, c.Schedule(4, "v1"))
	stale := clock.LastTimer()
	require.True(t, c.Cancel(4))

	// the runtime timer may already be running its callback when Stop is called
	stale.Fire()
	assert.Empty(t, rec.snapshot())

	require.NoError(t, c.Schedule(4, "v2"))
	stale.Fire()
	assert.Empty(t, rec.snapshot())
	assert.True(t, c.Pending(4))

	clock.Advance(400 * time.Millisecond)
	assert.Equal(t, []commitCall{{key: 4, snapshot: "v2"}}, rec.snapshot())
}

func TestCommitFailureIsolatedPerIdentity(t *testing.T) {
	boom := errors.New("backend down")
	rec := &recorder{fail: map[int64]error{1: boom}}

	var (
		mu     sync.Mutex
		failed = map[int64]error{}
	)
	c, clock := newTestCoalescer(t, rec, coalescer.WithErrorHandler(func(key int64, err error) {
		mu.Lock()
		failed[key] = err
		mu.Unlock()
	}))

	require.NoError(t, c.Schedule(1, "x"))
	require.NoError(t, c.Schedule(2, "y"))
	clock.Advance(400 * time.Millisecond)

	assert.ElementsMatch(t, []commitCall{{key: 1, snapshot: "x"}, {key: 2, snapshot: "y"}}, rec.snapshot())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.Same(t, boom, failed[1])
}

func TestFailedCommitIsNotRetried(t *testing.T) {
	rec := &recorder{fail: map[int64]error{1: errors.New("nope")}}
	c, clock := newTestCoalescer(t, rec)

	require.NoError(t, c.Schedule(1, "x"))
	clock.Advance(400 * time.Millisecond)
	clock.Advance(time.Hour)

	assert.Len(t, rec.snapshot(), 1)
	assert.False(t, c.Pending(1))
}

func TestScheduleAfterFireStartsNewCycle(t *testing.T) {
	rec := &recorder{}
	c, clock := newTestCoalescer(t, rec)

	require.NoError(t, c.Schedule(5, "first"))
	clock.Advance(400 * time.Millisecond)
	require.NoError(t, c.Schedule(5, "second"))
	clock.Advance(400 * time.Millisecond)

	assert.Equal(t, []commitCall{{key: 5, snapshot: "first"}, {key: 5, snapshot: "second"}}, rec.snapshot())
}

func TestFlushCommitsImmediately(t *testing.T) {
	boom := errors.New("rejected")
	rec := &recorder{fail: map[int64]error{9: boom}}
	handled := false
	c, clock := newTestCoalescer(t, rec, coalescer.WithErrorHandler(func(int64, error) { handled = true }))

	flushed, err := c.Flush(context.Background(), 8)
	assert.False(t, flushed)
	assert.NoError(t, err)

	require.NoError(t, c.Schedule(8, "ok"))
	flushed, err = c.Flush(context.Background(), 8)
	assert.True(t, flushed)
	assert.NoError(t, err)

	require.NoError(t, c.Schedule(9, "bad"))
	flushed, err = c.Flush(context.Background(), 9)
	assert.True(t, flushed)
	assert.ErrorIs(t, err, boom)
	assert.False(t, handled)

	clock.Advance(time.Second)
	assert.Equal(t, []commitCall{{key: 8, snapshot: "ok"}, {key: 9, snapshot: "bad"}}, rec.snapshot())
}

func TestFlushAllJoinsErrors(t *testing.T) {
	boom := errors.New("conflict")
	rec := &recorder{fail: map[int64]error{2: boom}}
	c, _ := newTestCoalescer(t, rec, coalescer.WithFlushConcurrency(2))

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, c.Schedule(i, "v"))
	}

	err := c.FlushAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.snapshot(), 5)
	assert.Equal(t, 0, c.Len())

	assert.NoError(t, c.FlushAll(context.Background()))
}

func TestCloseDropsPendingAndRejectsSchedule(t *testing.T) {
	rec := &recorder{}
	c, clock := newTestCoalescer(t, rec)

	require.NoError(t, c.Schedule(1, "x"))
	c.Close()
	c.Close()

	clock.Advance(time.Second)
	assert.Empty(t, rec.snapshot())
	assert.ErrorIs(t, c.Schedule(1, "y"), coalescer.ErrClosed)
	assert.Equal(t, 0, c.Len())
}

func TestCommitsForSameKeyDoNotOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)

	var (
		mu    sync.Mutex
		order []string
	)
	commit := func(_ context.Context, _ int64, v string) error {
		started <- v
		if v == "old" {
			<-release
		}
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
		return nil
	}

	clock := coalescertest.NewClock()
	c := coalescer.New[int64, string](commit, coalescer.WithClock(clock))
	defer c.Close()

	require.NoError(t, c.Schedule(1, "old"))
	go clock.Advance(coalescer.DefaultDelay)
	assert.Equal(t, "old", <-started)

	require.NoError(t, c.Schedule(1, "new"))
	flushDone := make(chan error, 1)
	go func() {
		_, err := c.Flush(context.Background(), 1)
		flushDone <- err
	}()

	select {
	case v := <-started:
		t.Fatalf("commit %q started while an older commit was in flight", v)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-flushDone)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, order)
}

func TestCommitPanicBecomesError(t *testing.T) {
	clock := coalescertest.NewClock()
	c := coalescer.New[int64, string](func(context.Context, int64, string) error {
		panic("bad snapshot")
	}, coalescer.WithClock(clock))
	defer c.Close()

	require.NoError(t, c.Schedule(1, "x"))
	_, err := c.Flush(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad snapshot")
}

func TestWithErrorHandlerKeyTypeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		coalescer.New[int64, string](func(context.Context, int64, string) error { return nil },
			coalescer.WithErrorHandler(func(string, error) {}))
	})
}

func TestSnapshotReturnsPendingValue(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestCoalescer(t, rec)

	_, ok := c.Snapshot(1)
	assert.False(t, ok)

	require.NoError(t, c.Schedule(1, "a"))
	require.NoError(t, c.Schedule(1, "b"))
	v, ok := c.Snapshot(1)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, []int64{1}, c.Keys())
	assert.Equal(t, 400*time.Millisecond, c.Delay())
}

func TestBusyCoversPendingRunningAndQueued(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	commit := func(_ context.Context, _ int64, v string) error {
		started <- v
		if v == "old" {
			<-release
		}
		return nil
	}

	clock := coalescertest.NewClock()
	c := coalescer.New[int64, string](commit, coalescer.WithClock(clock))
	defer c.Close()

	assert.False(t, c.Busy(1))
	require.NoError(t, c.Schedule(1, "old"))
	assert.True(t, c.Busy(1))

	oldDone := make(chan struct{})
	go func() {
		clock.Advance(coalescer.DefaultDelay)
		close(oldDone)
	}()
	assert.Equal(t, "old", <-started)
	assert.False(t, c.Pending(1))
	assert.True(t, c.Busy(1))

	require.NoError(t, c.Schedule(1, "new"))
	newDone := make(chan struct{})
	go func() {
		clock.Advance(coalescer.DefaultDelay)
		close(newDone)
	}()
	require.Eventually(t, func() bool { return !c.Pending(1) }, time.Second, time.Millisecond)
	assert.True(t, c.Busy(1))

	close(release)
	<-oldDone
	<-newDone
	assert.Equal(t, "new", <-started)
	assert.False(t, c.Busy(1))
	assert.False(t, c.Busy(2))
}
