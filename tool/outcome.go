package tool

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeKind tags the variant carried by an Outcome.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeTimeout         OutcomeKind = "timeout"
	OutcomeProcessFailure  OutcomeKind = "process_failure"
	OutcomeMalformedOutput OutcomeKind = "malformed_output"
	OutcomeCancelled       OutcomeKind = "cancelled"
)

// Outcome is the terminal result of one worker execution. Only the fields
// relevant to Kind are populated.
type Outcome struct {
	Kind OutcomeKind
	// Output is the decoded stdout document (success only).
	Output any
	// ExitCode is the worker exit status, or -1 when it never ran to exit.
	ExitCode int
	// Stderr is diagnostic text; it is never parsed.
	Stderr     string
	ParseError error
	PID        int
	Timeout    time.Duration
	Duration   time.Duration
}

// Err converts a non-success outcome into a ToolError. It returns nil for
// success.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeTimeout:
		return NewToolError(
			KindProcessTimeout,
			fmt.Sprintf("worker exceeded its %s deadline and was terminated", o.Timeout),
			nil,
		).WithDetails(map[string]any{"timeout_ms": o.Timeout.Milliseconds()})
	case OutcomeCancelled:
		return NewToolError(KindCancelled, "call was cancelled while the worker was running", nil)
	case OutcomeMalformedOutput:
		msg := "worker output is not a single JSON document"
		if o.ParseError != nil {
			msg += ": " + o.ParseError.Error()
		}
		details := map[string]any{}
		if o.Stderr != "" {
			details["stderr"] = o.Stderr
		}
		return NewToolError(KindMalformedOutput, msg, o.ParseError).WithDetails(details)
	default:
		msg := fmt.Sprintf("worker exited with status %d", o.ExitCode)
		if stderr := strings.TrimSpace(o.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		return NewToolError(KindProcessFailure, msg, nil).WithDetails(map[string]any{
			"exit_code": o.ExitCode,
			"stderr":    o.Stderr,
		})
	}
}
