package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/seedbox_aria2/internal/render"
)

// TransportError represents a failure to reach the daemon at all: connection refused,
// timeouts, resets, or a response body that could not be read.
type TransportError struct {
	Method string // RPC method being called (e.g. "aria2.addUri")
	Err    error  // Underlying network error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolFault represents a response that is not a valid RPC reply: unexpected HTTP
// status codes or bodies that do not decode as JSON-RPC.
type ProtocolFault struct {
	Method     string // RPC method being called
	StatusCode int    // HTTP status code, 0 when the status was fine but the body was not
	Message    string // What was wrong with the reply
	Err        error  // Underlying decode error, if any
}

func (e *ProtocolFault) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("protocol fault during %s (HTTP %d): %s", e.Method, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("protocol fault during %s: %s", e.Method, e.Message)
}

func (e *ProtocolFault) Unwrap() error {
	return e.Err
}

// DaemonFault is an error object returned by the daemon itself, e.g. an unknown gid
// or an option it refuses to change.
type DaemonFault struct {
	Method  string // RPC method being called
	Code    int    // Daemon error code
	Message string // Daemon error message, surfaced to the caller as-is
}

func (e *DaemonFault) Error() string {
	return fmt.Sprintf("daemon fault during %s (code %d): %s", e.Method, e.Code, e.Message)
}

// ConfigConflictError reports an option combination that cannot work, detected
// before anything is sent to the daemon.
type ConfigConflictError struct {
	Reason string
}

func (e *ConfigConflictError) Error() string {
	return "conflicting options: " + e.Reason
}

// EmptySelectionError is returned by Plan when filtering dropped every file the
// daemon had selected.
type EmptySelectionError struct {
	Candidates int // files the daemon had selected before filtering
}

func (e *EmptySelectionError) Error() string {
	return fmt.Sprintf("file filters excluded all %d selected files", e.Candidates)
}

// ErrorKind classifies why a fetch request failed.
type ErrorKind string

const (
	KindConfigConflict ErrorKind = "config_conflict"
	KindTransport      ErrorKind = "transport_error"
	KindProtocol       ErrorKind = "protocol_fault"
	KindDaemon         ErrorKind = "daemon_fault"
	KindRender         ErrorKind = "render_error"
	KindEmptySelection ErrorKind = "empty_selection"
	KindCancelled      ErrorKind = "cancelled"
	KindUnknown        ErrorKind = "unknown"
)

// Classify maps an error chain onto an ErrorKind.
func Classify(err error) ErrorKind {
	var (
		conflict  *ConfigConflictError
		transport *TransportError
		protocol  *ProtocolFault
		daemon    *DaemonFault
		renderErr *render.Error
		empty     *EmptySelectionError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &conflict):
		return KindConfigConflict
	case errors.As(err, &renderErr):
		return KindRender
	case errors.As(err, &empty):
		return KindEmptySelection
	case errors.As(err, &daemon):
		return KindDaemon
	case errors.As(err, &protocol):
		return KindProtocol
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &transport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// Error carries everything a caller needs to log a failed fetch request and move on.
type Error struct {
	Kind  ErrorKind
	Title string
	GID   string // empty when the failure happened before submission
	Err   error
}

func (e *Error) Error() string {
	if e.GID != "" {
		return fmt.Sprintf("%s: fetch %q (gid %s): %v", e.Kind, e.Title, e.GID, e.Err)
	}

	return fmt.Sprintf("%s: fetch %q: %v", e.Kind, e.Title, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
