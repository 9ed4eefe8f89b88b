package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	ErrorTransport ErrorKind = "transport"
	ErrorParse     ErrorKind = "parse"
)

var ErrEmptyResponse = errors.New("empty response")

// TransportError covers network failures, service errors and responses
// that carried nothing usable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the response did not match the expected structure.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse response: " + e.Reason
	}
	return fmt.Sprintf("parse response: %s: %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ClassifyError maps any invocation error onto the two failure kinds.
// Anything that is not a ParseError, timeouts included, is a transport
// failure.
func ClassifyError(err error) ErrorKind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return ErrorParse
	}
	return ErrorTransport
}

// Message renders err for display in an outcome slot.
func Message(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "agent timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "an unknown error occurred"
}
