package api

import (
	"context"
	"errors"
	"fmt"
)

// Code is a canonical status code; values match the gRPC numbering.
type Code int32

const (
	CodeOK Code = iota
	CodeCancelled
	CodeUnknown
	CodeInvalidArgument
	CodeDeadlineExceeded
	CodeNotFound
	CodeAlreadyExists
	CodePermissionDenied
	CodeResourceExhausted
	CodeFailedPrecondition
	CodeAborted
	CodeOutOfRange
	CodeUnimplemented
	CodeInternal
	CodeUnavailable
	CodeDataLoss
	CodeUnauthenticated
)

var codeNames = [...]string{
	"OK", "CANCELLED", "UNKNOWN", "INVALID_ARGUMENT", "DEADLINE_EXCEEDED",
	"NOT_FOUND", "ALREADY_EXISTS", "PERMISSION_DENIED", "RESOURCE_EXHAUSTED",
	"FAILED_PRECONDITION", "ABORTED", "OUT_OF_RANGE", "UNIMPLEMENTED",
	"INTERNAL", "UNAVAILABLE", "DATA_LOSS", "UNAUTHENTICATED",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("CODE(%d)", int32(c))
}

// Status is the result of a remote operation.
type Status struct {
	Code    Code
	Message string
}

// OK is the success status.
var OK = Status{Code: CodeOK}

// NewStatus builds a status with a formatted message.
func NewStatus(code Code, format string, args ...any) Status {
	return Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (s Status) IsOK() bool { return s.Code == CodeOK }

func (s Status) String() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Message
}

// Err returns nil for OK and a *StatusError otherwise.
func (s Status) Err() error {
	if s.IsOK() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError carries a non-OK Status as an error.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string { return "status " + e.Status.String() }

// Is matches another *StatusError with the same code.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	return ok && t.Status.Code == e.Status.Code
}

// StatusFromError maps err to a Status. Errors exposing a Status() method keep
// it; context errors map to CANCELLED/DEADLINE_EXCEEDED; anything else is INTERNAL.
func StatusFromError(err error) Status {
	if err == nil {
		return OK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	var sp interface{ Status() Status }
	if errors.As(err, &sp) {
		return sp.Status()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Status{Code: CodeCancelled, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Status{Code: CodeDeadlineExceeded, Message: err.Error()}
	}
	return Status{Code: CodeInternal, Message: err.Error()}
}
