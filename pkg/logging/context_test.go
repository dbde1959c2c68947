package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithServiceName(ctx, "console-service")

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"request_id", "req-1",
		"service_name", "console-service",
	}, GetLogFields(ctx))
}

func TestContextKeysDoNotCollideWithPlainStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "trace_id", "foreign")
	assert.Equal(t, "", GetTraceID(ctx))
}
