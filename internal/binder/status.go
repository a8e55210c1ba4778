package binder

import (
	"errors"
	"fmt"
	"math"

	"github.com/mithrel/upbridge/internal/parcel"
)

// StatusCode is the transaction-level result. The transaction layer only
// tells success from failure; finer causes travel in reply payloads.
type StatusCode int32

const (
	OK                 StatusCode = 0
	UnknownError       StatusCode = math.MinInt32
	NoMemory           StatusCode = -12
	InvalidOperation   StatusCode = -38
	BadValue           StatusCode = -22
	BadType            StatusCode = math.MinInt32 + 1
	NameNotFound       StatusCode = -2
	PermissionDenied   StatusCode = -1
	NoInit             StatusCode = -19
	AlreadyExists      StatusCode = -17
	DeadObject         StatusCode = -32
	FailedTransaction  StatusCode = math.MinInt32 + 2
	UnknownTransaction StatusCode = -74
	TimedOut           StatusCode = -110
)

func (s StatusCode) String() string {
	switch s {
	case OK:
		return "OK"
	case UnknownError:
		return "UNKNOWN_ERROR"
	case NoMemory:
		return "NO_MEMORY"
	case InvalidOperation:
		return "INVALID_OPERATION"
	case BadValue:
		return "BAD_VALUE"
	case BadType:
		return "BAD_TYPE"
	case NameNotFound:
		return "NAME_NOT_FOUND"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case NoInit:
		return "NO_INIT"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case DeadObject:
		return "DEAD_OBJECT"
	case FailedTransaction:
		return "FAILED_TRANSACTION"
	case UnknownTransaction:
		return "UNKNOWN_TRANSACTION"
	case TimedOut:
		return "TIMED_OUT"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

func (s StatusCode) Error() string { return "binder: " + s.String() }

// StatusFromError collapses err into a transaction status. Codec failures of
// either kind become BadValue.
func StatusFromError(err error) StatusCode {
	if err == nil {
		return OK
	}
	var sc StatusCode
	if errors.As(err, &sc) {
		return sc
	}
	switch {
	case errors.Is(err, parcel.ErrFraming),
		errors.Is(err, parcel.ErrMalformedPayload),
		errors.Is(err, parcel.ErrShortRead):
		return BadValue
	case errors.Is(err, parcel.ErrBadInterface):
		return BadType
	}
	return UnknownError
}
