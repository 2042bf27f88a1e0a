package core

import (
	"fmt"
)

// Error is the canonical error for everything the engine surfaces.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	Cause      any       `json:"cause,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrTransport     ErrorType = "transport_error"
	ErrProtocolParse ErrorType = "protocol_parse_error"
	ErrToolExecution ErrorType = "tool_execution_error"
	ErrAudio         ErrorType = "audio_error"
	ErrPersistence   ErrorType = "persistence_error"
	ErrInvalidConfig ErrorType = "invalid_config_error"
	ErrAPI           ErrorType = "api_error"
)

// NewTransportError creates a transport-level error (socket error, abnormal close).
func NewTransportError(message string) *Error {
	return &Error{Type: ErrTransport, Message: message}
}

// NewProtocolParseError creates a malformed-frame error. These are logged
// and skipped at single-frame granularity; they never abort a stream.
func NewProtocolParseError(message string, cause error) *Error {
	e := &Error{Type: ErrProtocolParse, Message: message}
	if cause != nil {
		e.Cause = cause
	}
	return e
}

// NewToolExecutionError creates a per-call tool failure. Tool errors are fed
// back into the conversation as tool-result payloads rather than thrown.
func NewToolExecutionError(name string, cause error) *Error {
	return &Error{
		Type:    ErrToolExecution,
		Message: fmt.Sprintf("tool %s: %v", name, cause),
		Cause:   cause,
	}
}

// NewAudioError creates an audio capture/playback error. Surfaced to the
// caller without crashing the engine.
func NewAudioError(message string) *Error {
	return &Error{Type: ErrAudio, Message: message}
}

// NewPersistenceError creates a history-store failure. Reported; the
// conversation continues in memory.
func NewPersistenceError(message string, cause error) *Error {
	e := &Error{Type: ErrPersistence, Message: message}
	if cause != nil {
		e.Cause = cause
	}
	return e
}

// NewInvalidConfigError creates a configuration validation error.
func NewInvalidConfigError(message string) *Error {
	return &Error{Type: ErrInvalidConfig, Message: message}
}

// NewAPIError creates a generic service-side error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// IsRetryable reports whether a new attempt could reasonably succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrTransport, ErrAPI:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.Cause.(error); ok {
		return ue
	}
	return nil
}
