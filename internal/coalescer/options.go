package coalescer

import (
	"context"
	"time"

	"eventdesk/internal/logger"
)

const (
	DefaultDelay            = 400 * time.Millisecond
	DefaultFlushConcurrency = 8
)

type options struct {
	name             string
	delay            time.Duration
	commitTimeout    time.Duration
	flushConcurrency int
	clock            Clock
	logger           logger.Logger
	ctx              context.Context
	errorHandler     interface{}
}

func defaultOptions() options {
	return options{
		name:             "default",
		delay:            DefaultDelay,
		flushConcurrency: DefaultFlushConcurrency,
		clock:            SystemClock(),
		logger:           logger.NopLogger(),
		ctx:              context.Background(),
	}
}

type Option func(*options)

// WithDelay sets the quiet period. Non-positive values keep the default.
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithName labels logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCommitTimeout bounds each commit. Zero means no bound beyond the
// caller's context.
func WithCommitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.commitTimeout = d
	}
}

// WithFlushConcurrency bounds the number of commits FlushAll runs at once.
func WithFlushConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flushConcurrency = n
		}
	}
}

// WithContext sets the parent of the context timer-fired commits run
// under. Close cancels the derived context.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithErrorHandler receives the error of every failed timer-fired commit,
// unchanged. K must match the coalescer's key type; New panics otherwise.
func WithErrorHandler[K comparable](h func(key K, err error)) Option {
	return func(o *options) {
		o.errorHandler = h
	}
}
