// Package notice delivers user-facing messages, mostly failures of work
// that finished after the request that started it returned.
package notice

import (
	"context"
	"sync"
	"time"

	"eventdesk/internal/constants"
	"eventdesk/internal/logger"
	"eventdesk/pkg/metrics"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

type Notice struct {
	Severity Severity  `json:"severity"`
	Source   string    `json:"source"`
	Subject  string    `json:"subject,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

type Reporter interface {
	Report(ctx context.Context, n Notice)
}

// Error builds an error notice for err.
func Error(source, subject string, err error) Notice {
	return Notice{
		Severity: SeverityError,
		Source:   source,
		Subject:  subject,
		Message:  err.Error(),
		At:       time.Now().UTC(),
	}
}

type LogReporter struct {
	logger logger.Logger
}

func NewLogReporter(log logger.Logger) *LogReporter {
	return &LogReporter{logger: log}
}

func (r *LogReporter) Report(ctx context.Context, n Notice) {
	metrics.NoticesTotal.WithLabelValues(string(n.Severity)).Inc()

	fields := []interface{}{"source", n.Source, "subject", n.Subject, "notice", n.Message}
	if n.Severity == SeverityError {
		r.logger.ErrorwCtx(ctx, "User notice", fields...)
		return
	}
	r.logger.InfowCtx(ctx, "User notice", fields...)
}

// Recorder keeps the most recent notices for a UI to poll.
type Recorder struct {
	mu       sync.Mutex
	notices  []Notice
	capacity int
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = constants.DefaultNoticeCapacity
	}
	return &Recorder{capacity: capacity, notices: make([]Notice, 0, capacity)}
}

func (r *Recorder) Report(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.notices) == r.capacity {
		copy(r.notices, r.notices[1:])
		r.notices = r.notices[:len(r.notices)-1]
	}
	r.notices = append(r.notices, n)
}

// List returns the recorded notices, oldest first.
func (r *Recorder) List() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Drain returns the recorded notices and forgets them.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = make([]Notice, 0, r.capacity)
	return out
}

type multi []Reporter

// Multi reports to every reporter in order.
func Multi(reporters ...Reporter) Reporter {
	return multi(reporters)
}

func (m multi) Report(ctx context.Context, n Notice) {
	for _, r := range m {
		r.Report(ctx, n)
	}
}
