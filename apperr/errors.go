// Package apperr holds the error taxonomy shared by the client core.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestFailed is returned for any non-2xx response from the backend
	ErrRequestFailed = errors.New("request failed")
	// ErrStreamDecode marks a stream frame that could not be decoded
	ErrStreamDecode = errors.New("malformed stream frame")
	// ErrNotFound is returned when an operation references an unknown id
	ErrNotFound = errors.New("not found")
	// ErrInvalidClue is returned when a clue fails validation
	ErrInvalidClue = errors.New("invalid clue")
	// ErrTimeout is returned when no stream event arrived within the idle bound
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrUnauthorized is returned when the backend rejects the auth token
	ErrUnauthorized = errors.New("unauthorized")
)

// Error codes reported to bridge clients
const (
	CodeRequestFailed = "REQUEST_FAILED"
	CodeStreamDecode  = "STREAM_DECODE"
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidClue   = "INVALID_CLUE"
	CodeTimeout       = "TIMEOUT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternal      = "INTERNAL"
)

// StatusError carries the status code of a failed backend request.
// It matches ErrRequestFailed, and ErrUnauthorized for 401s.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRequestFailed:
		return true
	case ErrUnauthorized:
		return e.Status == 401
	case ErrNotFound:
		return e.Status == 404
	}
	return false
}

// Code maps an error onto a stable client-facing code
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidClue):
		return CodeInvalidClue
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStreamDecode):
		return CodeStreamDecode
	case errors.Is(err, ErrRequestFailed):
		return CodeRequestFailed
	}
	return CodeInternal
}
