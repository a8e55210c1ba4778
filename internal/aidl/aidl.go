// Package aidl holds the calling conventions shared by every interface the
// bridge speaks over binder: interface tokens, reply headers carrying service
// exceptions, oneway submission, and synchronous calls that fall back to a
// default implementation when the remote side does not know a method.
package aidl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/parcel"
)

// ErrProtocolMismatch is returned when the remote object does not implement
// a method and no default implementation is configured.
var ErrProtocolMismatch = fmt.Errorf("aidl: protocol mismatch: %w", binder.UnknownTransaction)

// ExceptionCode is the first value of every synchronous reply.
type ExceptionCode int32

const (
	ExNone                 ExceptionCode = 0
	ExSecurity             ExceptionCode = -1
	ExBadParcelable        ExceptionCode = -2
	ExIllegalArgument      ExceptionCode = -3
	ExNullPointer          ExceptionCode = -4
	ExIllegalState         ExceptionCode = -5
	ExUnsupportedOperation ExceptionCode = -7
	ExServiceSpecific      ExceptionCode = -8
	ExTransactionFailed    ExceptionCode = -129
)

func (c ExceptionCode) String() string {
	switch c {
	case ExNone:
		return "NONE"
	case ExSecurity:
		return "SECURITY"
	case ExBadParcelable:
		return "BAD_PARCELABLE"
	case ExIllegalArgument:
		return "ILLEGAL_ARGUMENT"
	case ExNullPointer:
		return "NULL_POINTER"
	case ExIllegalState:
		return "ILLEGAL_STATE"
	case ExUnsupportedOperation:
		return "UNSUPPORTED_OPERATION"
	case ExServiceSpecific:
		return "SERVICE_SPECIFIC"
	case ExTransactionFailed:
		return "TRANSACTION_FAILED"
	}
	return fmt.Sprintf("EXCEPTION(%d)", int32(c))
}

// ServiceException is an error raised by the remote implementation, as
// opposed to a failure of the transaction itself.
type ServiceException struct {
	Code    ExceptionCode
	Message string
}

func NewServiceException(code ExceptionCode, msg string) *ServiceException {
	return &ServiceException{Code: code, Message: msg}
}

func (e *ServiceException) Error() string {
	if e.Message == "" {
		return "aidl: service exception " + e.Code.String()
	}
	return fmt.Sprintf("aidl: service exception %s: %s", e.Code, e.Message)
}

// WriteNoException writes a successful reply header.
func WriteNoException(reply *parcel.Parcel) error {
	reply.WriteInt32(int32(ExNone))
	return reply.WriteString("")
}

// WriteException writes a failed reply header for err. Errors that are not
// already a ServiceException are reported as ExIllegalState.
func WriteException(reply *parcel.Parcel, err error) error {
	var se *ServiceException
	if !errors.As(err, &se) {
		se = &ServiceException{Code: ExIllegalState, Message: err.Error()}
	}
	if se.Code == ExNone {
		se = &ServiceException{Code: ExIllegalState, Message: se.Message}
	}
	reply.WriteInt32(int32(se.Code))
	return reply.WriteString(se.Message)
}

// ReadException consumes a reply header, returning the carried exception.
func ReadException(reply *parcel.Parcel) error {
	code, err := reply.ReadInt32()
	if err != nil {
		return err
	}
	msg, err := reply.ReadString()
	if err != nil {
		return err
	}
	if ExceptionCode(code) == ExNone {
		return nil
	}
	return &ServiceException{Code: ExceptionCode(code), Message: msg}
}

// Code returns the transaction code of the method at index in declaration order.
func Code(index int) binder.TransactionCode {
	return binder.FirstCallTransaction + binder.TransactionCode(index)
}

// IsUnknownTransaction reports whether err means the remote side does not
// implement the method.
func IsUnknownTransaction(err error) bool {
	return errors.Is(err, binder.UnknownTransaction)
}

// proxy is the client half shared by every generated interface.
type proxy struct {
	remote     binder.IBinder
	descriptor string
}

// call marshals a transaction, sends it and, for synchronous calls, strips
// the reply header. write may be nil for methods without arguments.
func (p proxy) call(ctx context.Context, code binder.TransactionCode, oneway bool, write func(*parcel.Parcel) error) (*parcel.Parcel, error) {
	data := parcel.New()
	if err := data.WriteInterfaceToken(p.descriptor); err != nil {
		return nil, err
	}
	if write != nil {
		if err := write(data); err != nil {
			return nil, err
		}
	}
	var flags binder.Flags
	if oneway {
		flags = binder.FlagOneway | binder.FlagPrivateLocal
	}
	reply, err := p.remote.Transact(ctx, code, data, flags)
	if err != nil {
		return nil, err
	}
	if oneway {
		return nil, nil
	}
	if reply == nil {
		return nil, binder.FailedTransaction
	}
	if err := ReadException(reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Method is one entry of a stub's dispatch table.
type Method struct {
	Name   string
	Oneway bool
	// Handle reads arguments from data in write order and writes results to
	// reply. The reply header is written by the stub.
	Handle func(ctx context.Context, data, reply *parcel.Parcel) error
}

// NewStub builds the server half of an interface. Methods are numbered from
// FirstCallTransaction in slice order.
func NewStub(descriptor string, methods []Method, log *slog.Logger) *binder.Binder {
	return binder.New(descriptor, func(ctx context.Context, code binder.TransactionCode, data, reply *parcel.Parcel, flags binder.Flags) error {
		idx := int(code) - int(binder.FirstCallTransaction)
		if idx < 0 || idx >= len(methods) {
			return binder.UnknownTransaction
		}
		m := methods[idx]
		if err := data.EnforceInterface(descriptor); err != nil {
			return err
		}
		out := parcel.New()
		err := m.Handle(ctx, data, out)
		if m.Oneway || flags.Oneway() {
			return err
		}
		if err != nil {
			if isTransactionError(err) {
				return err
			}
			return WriteException(reply, err)
		}
		if err := WriteNoException(reply); err != nil {
			return err
		}
		reply.Append(out.Bytes())
		return nil
	}, log)
}

// isTransactionError separates failures of the transaction (bad arguments,
// dead objects) from exceptions raised by the implementation.
func isTransactionError(err error) bool {
	var sc binder.StatusCode
	if errors.As(err, &sc) {
		return true
	}
	return errors.Is(err, parcel.ErrShortRead) ||
		errors.Is(err, parcel.ErrFraming) ||
		errors.Is(err, parcel.ErrMalformedPayload) ||
		errors.Is(err, parcel.ErrBadInterface)
}
