package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusBadRequest, ErrValidation.Code, false},
		{http.StatusUnprocessableEntity, ErrValidation.Code, false},
		{http.StatusUnauthorized, ErrUnauthorized.Code, false},
		{http.StatusForbidden, ErrForbidden.Code, false},
		{http.StatusNotFound, ErrNotFound.Code, false},
		{http.StatusConflict, ErrConflict.Code, false},
		{http.StatusRequestEntityTooLarge, ErrPayloadTooLarge.Code, false},
		{http.StatusGatewayTimeout, ErrTimeout.Code, true},
		{http.StatusServiceUnavailable, ErrServiceUnavailable.Code, true},
		{http.StatusTooManyRequests, ErrServiceUnavailable.Code, true},
		{http.StatusBadGateway, ErrUpstream.Code, true},
		{http.StatusTeapot, ErrUpstream.Code, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := FromHTTPStatus(tt.status, "")
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.IsRetryable())
			assert.Equal(t, tt.status, err.Details["upstream_status"])
		})
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("load: %w", ErrNotFound.WithDetail("id", 7))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.True(t, IsNotFound(err))
}

func TestWithDetailDoesNotMutateBase(t *testing.T) {
	_ = ErrValidation.WithDetail("field", "status")
	assert.Empty(t, ErrValidation.Details)
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrValidation.WithDetail("field", "status"))
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)
	assert.Equal(t, "status", resp.Details["field"])

	resp = ToErrorResponse(errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("boom")))
}

func TestRecoverPanicHidesStackTrace(t *testing.T) {
	err := RecoverPanic("kaboom")
	assert.Error(t, err)

	var appErr *Error
	assert.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
	assert.Contains(t, appErr.Details, "stack_trace")

	resp := ToErrorResponse(err)
	assert.NotContains(t, resp.Details, "stack_trace")
	assert.Nil(t, RecoverPanic(nil))
}
