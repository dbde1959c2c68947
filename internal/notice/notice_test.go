package notice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/logger"
)

func TestRecorderKeepsMostRecent(t *testing.T) {
	r := NewRecorder(2)
	ctx := context.Background()

	for _, msg := range []string{"a", "b", "c"} {
		r.Report(ctx, Notice{Severity: SeverityInfo, Message: msg})
	}

	got := r.List()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, "c", got[1].Message)

	assert.Len(t, r.Drain(), 2)
	assert.Empty(t, r.List())
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewRecorder(5), NewRecorder(5)
	rep := Multi(NewLogReporter(logger.NopLogger()), a, b)

	rep.Report(context.Background(), Error("review", "application 7", errors.New("backend unavailable")))

	require.Len(t, a.List(), 1)
	require.Len(t, b.List(), 1)
	assert.Equal(t, SeverityError, a.List()[0].Severity)
	assert.Equal(t, "backend unavailable", a.List()[0].Message)
	assert.Equal(t, "application 7", a.List()[0].Subject)
}

func TestNewRecorderDefaultCapacity(t *testing.T) {
	r := NewRecorder(0)
	assert.Equal(t, 100, r.capacity)
}
