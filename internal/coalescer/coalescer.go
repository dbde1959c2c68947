// Package coalescer turns bursts of edits to the same record into a single
// commit. Every Schedule call replaces the pending snapshot for its key and
// restarts that key's quiet-period timer; when the timer runs out the most
// recent snapshot is committed exactly once.
//
// Keys are independent. Commits for one key are issued in firing order and
// never overlap, so an older snapshot cannot reach the backend after a newer
// one. A failed commit is handed to the error handler and is not retried.
package coalescer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/metrics"
)

var ErrClosed = errors.New("coalescer: closed")

// CommitFunc transmits one snapshot.
type CommitFunc[K comparable, V any] func(ctx context.Context, key K, snapshot V) error

const (
	triggerTimer = "timer"
	triggerFlush = "flush"
)

type entry[V any] struct {
	snapshot V
	timer    Timer
	gen      uint64
}

type Coalescer[K comparable, V any] struct {
	commit  CommitFunc[K, V]
	onError func(K, error)
	opts    options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  map[K]*entry[V]
	inflight map[K]chan struct{}
	gen      uint64
	closed   bool

	wg sync.WaitGroup
}

func New[K comparable, V any](commit CommitFunc[K, V], opts ...Option) *Coalescer[K, V] {
	if commit == nil {
		panic("coalescer: nil commit function")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coalescer[K, V]{
		commit:   commit,
		opts:     o,
		pending:  make(map[K]*entry[V]),
		inflight: make(map[K]chan struct{}),
	}

	if o.errorHandler != nil {
		h, ok := o.errorHandler.(func(K, error))
		if !ok {
			panic(fmt.Sprintf("coalescer: error handler %T does not match key type", o.errorHandler))
		}
		c.onError = h
	}

	c.ctx, c.cancel = context.WithCancel(o.ctx)
	return c
}

// Schedule stores snapshot as the value to commit for key and restarts the
// key's timer. A pending, unfired snapshot for key is discarded.
func (c *Coalescer[K, V]) Schedule(key K, snapshot V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	outcome := "scheduled"
	if prev, ok := c.pending[key]; ok {
		prev.timer.Stop()
		outcome = "coalesced"
	}

	c.gen++
	gen := c.gen
	e := &entry[V]{snapshot: snapshot, gen: gen}
	c.pending[key] = e
	e.timer = c.opts.clock.AfterFunc(c.opts.delay, func() {
		c.fire(key, gen)
	})

	metrics.CoalescerEditsTotal.WithLabelValues(c.opts.name, outcome).Inc()
	c.setPendingGauge()
	return nil
}

// Cancel drops the pending snapshot for key. Once Cancel returns that
// snapshot is never committed. A commit already in flight is not affected.
func (c *Coalescer[K, V]) Cancel(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(c.pending, key)

	metrics.CoalescerCancelledTotal.WithLabelValues(c.opts.name).Inc()
	c.setPendingGauge()
	c.opts.logger.Debugw("Pending commit cancelled", "coalescer", c.opts.name, "key", key)
	return true
}

// Flush commits the pending snapshot for key now, on the caller's
// goroutine, and returns the commit error. The error handler is not called.
// The boolean is false when nothing was pending.
func (c *Coalescer[K, V]) Flush(ctx context.Context, key K) (bool, error) {
	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	e.timer.Stop()
	delete(c.pending, key)
	prev, done := c.enqueue(key)
	c.setPendingGauge()
	c.mu.Unlock()

	return true, c.run(ctx, key, e.snapshot, prev, done, triggerFlush)
}

// FlushAll flushes every pending key and returns the joined commit errors.
func (c *Coalescer[K, V]) FlushAll(ctx context.Context) error {
	keys := c.Keys()
	if len(keys) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(c.opts.flushConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			if _, err := c.Flush(ctx, key); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("flush %v: %w", key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Close cancels every pending snapshot, cancels the context of commits
// started by timers and waits for them to return. Later calls to Schedule
// fail with ErrClosed.
func (c *Coalescer[K, V]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dropped := len(c.pending)
	for key, e := range c.pending {
		e.timer.Stop()
		delete(c.pending, key)
	}
	c.setPendingGauge()
	c.mu.Unlock()

	if dropped > 0 {
		metrics.CoalescerCancelledTotal.WithLabelValues(c.opts.name).Add(float64(dropped))
		c.opts.logger.Warnw("Coalescer closed with pending commits", "coalescer", c.opts.name, "dropped", dropped)
	}

	c.cancel()
	c.wg.Wait()
}

// Pending reports whether key has a snapshot waiting for its timer.
func (c *Coalescer[K, V]) Pending(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Busy reports whether key has a snapshot waiting for its timer or a commit
// running or queued behind another.
func (c *Coalescer[K, V]) Busy(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, pending := c.pending[key]
	_, inflight := c.inflight[key]
	return pending || inflight
}

// Snapshot returns the pending snapshot for key, if any.
func (c *Coalescer[K, V]) Snapshot(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.snapshot, true
}

func (c *Coalescer[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, len(c.pending))
	for key := range c.pending {
		keys = append(keys, key)
	}
	return keys
}

func (c *Coalescer[K, V]) Delay() time.Duration {
	return c.opts.delay
}

// fire runs on the timer goroutine. A timer that lost a race with Schedule,
// Cancel, Flush or Close finds a different generation, or no entry, and
// does nothing.
func (c *Coalescer[K, V]) fire(key K, gen uint64) {
	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok || e.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	prev, done := c.enqueue(key)
	c.setPendingGauge()
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()

	if err := c.run(c.ctx, key, e.snapshot, prev, done, triggerTimer); err != nil {
		if c.onError != nil {
			c.onError(key, err)
		}
	}
}

// enqueue appends a commit to key's chain. The caller holds c.mu.
func (c *Coalescer[K, V]) enqueue(key K) (<-chan struct{}, chan struct{}) {
	prev := c.inflight[key]
	done := make(chan struct{})
	c.inflight[key] = done
	return prev, done
}

func (c *Coalescer[K, V]) release(key K, done chan struct{}) {
	c.mu.Lock()
	if c.inflight[key] == done {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
	close(done)
}

func (c *Coalescer[K, V]) run(ctx context.Context, key K, snapshot V, prev <-chan struct{}, done chan struct{}, trigger string) error {
	defer c.release(key, done)

	if prev != nil {
		<-prev
	}

	if c.opts.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.commitTimeout)
		defer cancel()
	}

	start := c.opts.clock.Now()
	err := c.invoke(ctx, key, snapshot)
	elapsed := c.opts.clock.Now().Sub(start)

	status := "success"
	if err != nil {
		status = "error"
		c.opts.logger.WarnwCtx(ctx, "Commit failed",
			"coalescer", c.opts.name,
			"key", key,
			"trigger", trigger,
			"error", err,
		)
	} else {
		c.opts.logger.DebugwCtx(ctx, "Commit succeeded",
			"coalescer", c.opts.name,
			"key", key,
			"trigger", trigger,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	metrics.ObserveCommit(c.opts.name, trigger, status, elapsed)
	return err
}

func (c *Coalescer[K, V]) invoke(ctx context.Context, key K, snapshot V) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return c.commit(ctx, key, snapshot)
}

// setPendingGauge expects c.mu to be held.
func (c *Coalescer[K, V]) setPendingGauge() {
	metrics.CoalescerPending.WithLabelValues(c.opts.name).Set(float64(len(c.pending)))
}
