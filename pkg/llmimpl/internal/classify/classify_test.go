package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"llmbroker/pkg/llmerrors"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   llmerrors.ErrorType
	}{
		{"unauthorized", 401, llmerrors.ErrorTypeAuth},
		{"forbidden", 403, llmerrors.ErrorTypeAuth},
		{"rate limited", 429, llmerrors.ErrorTypeRateLimit},
		{"bad request", 400, llmerrors.ErrorTypeBadPrompt},
		{"payload too large", 413, llmerrors.ErrorTypeBadPrompt},
		{"unprocessable", 422, llmerrors.ErrorTypeBadPrompt},
		{"server error", 500, llmerrors.ErrorTypeTransient},
		{"bad gateway", 502, llmerrors.ErrorTypeTransient},
		{"service unavailable", 503, llmerrors.ErrorTypeTransient},
		{"anthropic overloaded", 529, llmerrors.ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HTTPStatus(tt.status, errors.New("boom"))
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}

func TestHTTPStatusPreservesCause(t *testing.T) {
	cause := errors.New("429 too many requests")
	err := HTTPStatus(429, cause)
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, HTTPStatus(418, cause))
}

func TestErrorContextCancellation(t *testing.T) {
	err := Error(context.Canceled, 0)
	assert.ErrorIs(t, err, context.Canceled)

	err = Error(context.DeadlineExceeded, 0)
	assert.Equal(t, llmerrors.ErrorTypeTransient, llmerrors.TypeOf(err))
}

func TestErrorStringPatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want llmerrors.ErrorType
	}{
		{"dial tcp: connection refused", llmerrors.ErrorTypeTransient},
		{"request timeout exceeded", llmerrors.ErrorTypeTransient},
		{"rate limit reached for model", llmerrors.ErrorTypeRateLimit},
		{"quota exceeded for project", llmerrors.ErrorTypeRateLimit},
		{"server overloaded, retry later", llmerrors.ErrorTypeRateLimit},
		{"incorrect API key provided", llmerrors.ErrorTypeAuth},
		{"unauthorized access", llmerrors.ErrorTypeAuth},
		{"invalid request payload", llmerrors.ErrorTypeBadPrompt},
		{"context length exceeded", llmerrors.ErrorTypeBadPrompt},
		{"something inexplicable", llmerrors.ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := Error(errors.New(tt.msg), 0)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}

func TestErrorStatusTakesPrecedenceOverText(t *testing.T) {
	err := Error(errors.New("rate limit mentioned in body"), 401)
	assert.Equal(t, llmerrors.ErrorTypeAuth, llmerrors.TypeOf(err))
}
