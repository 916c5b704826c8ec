package tool

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced to clients. The values are stable and machine-readable.
const (
	// KindUnknownTool is returned when a tool name is absent from the registry.
	KindUnknownTool = "UNKNOWN_TOOL"
	// KindInvalidArguments is returned when arguments violate the input schema.
	KindInvalidArguments = "INVALID_ARGUMENTS"
	// KindProcessTimeout is returned when a worker exceeds its deadline.
	KindProcessTimeout = "PROCESS_TIMEOUT"
	// KindProcessFailure is returned when a worker exits non-zero or cannot start.
	KindProcessFailure = "PROCESS_FAILURE"
	// KindMalformedOutput is returned when stdout is not a single JSON document.
	KindMalformedOutput = "MALFORMED_OUTPUT"
	// KindLogicalFailure is returned when a well-formed document signals failure.
	KindLogicalFailure = "LOGICAL_FAILURE"
	// KindInvalidOutput is returned when a result body violates the output schema.
	KindInvalidOutput = "INVALID_OUTPUT"
	// KindCancelled is returned when a call is cancelled before completion.
	KindCancelled = "CANCELLED"
	// KindInvalidRequest is returned by transports for undecodable envelopes.
	KindInvalidRequest = "INVALID_REQUEST"
)

var (
	// ErrToolNotFound indicates the requested tool does not exist in the registry.
	ErrToolNotFound = errors.New("tool: not found")
	// ErrDuplicateTool indicates two catalogue entries share a name.
	ErrDuplicateTool = errors.New("tool: duplicate name")
)

// ToolError is a structured call error that flows from the engine to every
// transport without losing its machine-readable kind.
type ToolError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	kind := strings.TrimSpace(e.Kind)
	msg := strings.TrimSpace(e.Message)
	switch {
	case kind == "" && msg == "":
		return KindProcessFailure
	case kind == "":
		return msg
	case msg == "":
		return kind
	default:
		return fmt.Sprintf("%s: %s", kind, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewToolError builds a ToolError. An empty message falls back to the cause.
func NewToolError(kind, message string, cause error) *ToolError {
	cleanKind := strings.TrimSpace(kind)
	if cleanKind == "" {
		cleanKind = KindProcessFailure
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Kind:    cleanKind,
		Message: cleanMsg,
		Cause:   cause,
	}
}

// WithDetails merges details into err and returns it.
func (e *ToolError) WithDetails(details map[string]any) *ToolError {
	if e == nil || len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		e.Details[key] = value
	}
	return e
}

// AsToolError extracts a *ToolError from an error chain.
func AsToolError(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ErrorKind returns the kind of err, or fallback when err carries none.
func ErrorKind(err error, fallback string) string {
	if toolErr, ok := AsToolError(err); ok && strings.TrimSpace(toolErr.Kind) != "" {
		return toolErr.Kind
	}
	return fallback
}
