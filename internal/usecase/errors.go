package usecase

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorTranscriptionUnrecognized ErrorCode = "TRANSCRIPTION_UNRECOGNIZED"
	ErrorTranscriptionUnavailable  ErrorCode = "TRANSCRIPTION_UNAVAILABLE"
	ErrorCompletion                ErrorCode = "COMPLETION_ERROR"
	ErrorSubmission                ErrorCode = "SUBMISSION_ERROR"
	ErrorPoll                      ErrorCode = "POLL_ERROR"
	ErrorDownload                  ErrorCode = "DOWNLOAD_ERROR"
	ErrorPlayback                  ErrorCode = "PLAYBACK_ERROR"
	ErrorStorage                   ErrorCode = "STORAGE_ERROR"
	ErrorTimeout                   ErrorCode = "TIMEOUT"

	// ErrorCancelled labels turns cut short by shutdown. It is never
	// returned inside an *Error.
	ErrorCancelled ErrorCode = "CANCELLED"
	ErrorUnknown   ErrorCode = "UNKNOWN"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf classifies err for logs and metrics. A nil error has an empty code.
func CodeOf(err error) (ErrorCode, string) {
	if err == nil {
		return "", ""
	}
	var usecaseErr *Error
	if errors.As(err, &usecaseErr) {
		return usecaseErr.Code, usecaseErr.Reason
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCancelled, "context_done"
	}
	return ErrorUnknown, "unclassified"
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
