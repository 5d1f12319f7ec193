package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/storage"
)

// MessageType identifies a frame on the watch socket.
type MessageType string

const (
	// MessageTypeSnapshot carries the full collection after a change.
	MessageTypeSnapshot MessageType = "snapshot"
	// MessageTypeError ends the subscription. The server closes the socket after it.
	MessageTypeError MessageType = "error"
)

// Error codes carried in error frames and JSON error bodies.
const (
	CodeUnauthorized = "unauthorized"
	CodeUnavailable  = "unavailable"
	CodeNotFound     = "not_found"
	CodeInvalid      = "invalid"
	CodeConflict     = "conflict"
	CodeInternal     = "internal"
)

// Message is a single websocket frame.
type Message struct {
	Type      MessageType    `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Entries   []models.Entry `json:"entries,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
}

// ErrorBody is returned by REST endpoints on failure.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CreatedBody is returned by a successful create.
type CreatedBody struct {
	ID string `json:"id"`
}

// CollectionPath is the REST path of a scope's collection.
func CollectionPath(scope storage.Scope) string {
	return "/v1/" + scope.Path()
}

// WatchPath is the websocket path for a scope.
func WatchPath(scope storage.Scope) string {
	return CollectionPath(scope) + "/watch"
}

// EntryPath is the REST path of a single entry.
func EntryPath(scope storage.Scope, id string) string {
	return CollectionPath(scope) + "/" + id
}

// codeFor maps a store error to its wire code and HTTP status.
func codeFor(err error) (string, int) {
	var validation *validationError
	switch {
	case errors.As(err, &validation), errors.Is(err, storage.ErrInvalidScope):
		return CodeInvalid, http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return CodeConflict, http.StatusConflict
	case errors.Is(err, storage.ErrUnauthorized):
		return CodeUnauthorized, http.StatusUnauthorized
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, storage.ErrClosed):
		return CodeUnavailable, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// ErrorForCode turns a wire code back into the matching storage sentinel.
func ErrorForCode(code, message string) error {
	switch code {
	case CodeUnauthorized:
		return fmt.Errorf("%w: %s", storage.ErrUnauthorized, message)
	case CodeUnavailable:
		return fmt.Errorf("%w: %s", storage.ErrUnavailable, message)
	case CodeNotFound:
		return fmt.Errorf("%w: %s", storage.ErrNotFound, message)
	case CodeInvalid:
		return fmt.Errorf("%w: %s", storage.ErrInvalidScope, message)
	case CodeConflict:
		return fmt.Errorf("%w: %s", storage.ErrConflict, message)
	default:
		return errors.New(message)
	}
}

type validationError struct{ err error }

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }
