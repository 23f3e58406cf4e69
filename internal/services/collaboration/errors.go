package collaboration

import (
	"errors"

	"coderoom/internal/repository"
)

var (
	// ErrWriteRejected means the store accepted the write but did not return
	// the requested content on read-back.
	ErrWriteRejected = errors.New("write rejected")
	// ErrConcurrencyDenied means another participant is in the target editor.
	ErrConcurrencyDenied = errors.New("another user is editing this file")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrUnknownEvent      = errors.New("unknown event")
)

// Error codes sent to clients
const (
	CodeNotFound          = "not_found"
	CodeWriteRejected     = "write_rejected"
	CodeConcurrencyDenied = "concurrency_denied"
	CodeInvalidPayload    = "invalid_payload"
	CodeUnknownEvent      = "unknown_event"
	CodeInternal          = "internal"
)

// ErrorCode classifies err for the wire
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrWriteRejected):
		return CodeWriteRejected
	case errors.Is(err, ErrConcurrencyDenied):
		return CodeConcurrencyDenied
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, ErrUnknownEvent):
		return CodeUnknownEvent
	default:
		return CodeInternal
	}
}
