package async

import (
	"context"

	"github.com/teranos/tally/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeInsufficientData ErrorCode = "insufficient_data"
	ErrorCodeMalformedInput   ErrorCode = "malformed_input"
	ErrorCodeRateLimited      ErrorCode = "upstream_rate_limited"
	ErrorCodeUnavailable      ErrorCode = "upstream_unavailable"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeInvalidRequest   ErrorCode = "invalid_request"
	ErrorCodeTimeout          ErrorCode = "timeout"
	ErrorCodeCancelled        ErrorCode = "cancelled"
	ErrorCodeUnknown          ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Can the job be retried?
}

// ClassifyError categorizes an error by the class it was marked with.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{
			Stage:   stage,
			Code:    ErrorCodeUnknown,
			Message: "unknown error",
		}
	}

	ctx := ErrorContext{
		Stage:   stage,
		Message: err.Error(),
	}

	switch {
	case errors.IsInsufficientData(err):
		ctx.Code = ErrorCodeInsufficientData
	case errors.IsMalformedInput(err):
		ctx.Code = ErrorCodeMalformedInput
	case errors.Is(err, errors.ErrUpstreamRateLimited):
		ctx.Code = ErrorCodeRateLimited
		ctx.Retryable = true
	case errors.Is(err, errors.ErrUpstreamUnavailable):
		ctx.Code = ErrorCodeUnavailable
		ctx.Retryable = true
	case errors.IsNotFoundError(err):
		ctx.Code = ErrorCodeNotFound
	case errors.IsInvalidRequestError(err):
		ctx.Code = ErrorCodeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true
	case errors.Is(err, context.Canceled):
		ctx.Code = ErrorCodeCancelled
	default:
		ctx.Code = ErrorCodeUnknown
	}

	return ctx
}
