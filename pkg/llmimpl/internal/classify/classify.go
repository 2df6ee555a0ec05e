// Package classify maps raw provider SDK errors onto the structured error
// taxonomy shared by all adapters.
package classify

import (
	"context"
	"errors"
	"strings"

	"llmbroker/pkg/llmerrors"
)

// HTTPStatus maps an HTTP status code to a classified error, keeping the SDK
// error as the unwrappable cause. Returns nil for status codes without a
// fixed classification.
func HTTPStatus(statusCode int, cause error) *llmerrors.Error {
	classified := func(errType llmerrors.ErrorType, message string) *llmerrors.Error {
		e := llmerrors.NewErrorWithStatus(errType, statusCode, message)
		e.Err = cause
		return e
	}

	switch statusCode {
	case 401:
		return classified(llmerrors.ErrorTypeAuth, "authentication failed - check API key")
	case 403:
		return classified(llmerrors.ErrorTypeAuth, "permission denied - check API access")
	case 429:
		return classified(llmerrors.ErrorTypeRateLimit, "rate limit exceeded")
	case 400, 413, 422:
		return classified(llmerrors.ErrorTypeBadPrompt, "bad request - check prompt format and parameters")
	case 500, 502, 503, 504, 529:
		return classified(llmerrors.ErrorTypeTransient, "server error")
	default:
		return nil
	}
}

// Error classifies an SDK error using the HTTP status when available and
// message text patterns otherwise.
func Error(err error, statusCode int) *llmerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	if classified := HTTPStatus(statusCode, err); classified != nil {
		return classified
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "provider not reachable")
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "temporary"),
		strings.Contains(lower, "eof"),
		strings.Contains(lower, "reset"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(lower, "rate"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "overloaded"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "api key"),
		strings.Contains(lower, "auth"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	case strings.Contains(lower, "invalid"),
		strings.Contains(lower, "malformed"),
		strings.Contains(lower, "too large"),
		strings.Contains(lower, "context length"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "prompt or request error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}
