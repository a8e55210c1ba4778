// Package host is the native side's view of the host runtime: an attached
// environment through which host objects are created, used and released.
//
// Host objects are only ever seen as opaque Refs. A host-side failure leaves
// the environment with a pending exception; until it is cleared every further
// call on that environment fails with ErrExceptionPending. Use Call and Do to
// run operations with that discipline applied.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/mithrel/upbridge/pkg/api"
)

// Ref is an opaque reference to a host object. The zero Ref is null.
type Ref int64

func (r Ref) IsNil() bool { return r == 0 }

var (
	// ErrExceptionPending is returned by any call made while a host
	// exception is pending on the environment.
	ErrExceptionPending = errors.New("host: exception pending")
	// ErrRemoteUnavailable reports that the host could not be reached.
	ErrRemoteUnavailable = errors.New("host: remote unavailable")
	// ErrRemoteException reports that the host raised an exception.
	ErrRemoteException = errors.New("host: remote exception")
	// ErrDetached is returned by calls on an environment after Detach.
	ErrDetached = errors.New("host: environment detached")
	// ErrNullRef is returned when the host hands back a null reference.
	ErrNullRef = errors.New("host: null reference")
)

// Exception is a host exception captured on an environment.
type Exception struct {
	Method string
	Err    error
}

func (e *Exception) Error() string { return fmt.Sprintf("host exception in %s: %v", e.Method, e.Err) }

func (e *Exception) Unwrap() error { return e.Err }

// Env is one attachment to the host runtime. It is not safe for concurrent
// use and must not be kept past the call it was attached for.
type Env interface {
	// NewListenerBridge creates a host listener that delivers to handle.
	NewListenerBridge(handle uint64) (Ref, error)
	// TopicFromBytes reconstructs a host topic from its framed encoding.
	TopicFromBytes(topic []byte) (Ref, error)
	TopicToBytes(topic Ref) ([]byte, error)
	RegisterListener(topic, listener Ref) (api.Status, error)
	UnregisterListener(topic, listener Ref) (api.Status, error)
	Send(msg api.Message) (api.Status, error)
	InterfaceVersion() (int32, error)
	// RegisterClient announces the native client to the host.
	RegisterClient(pkg string, entity api.Entity, token string, flags int32) (api.Status, error)
	// DeleteRef releases a host object. Releasing the null Ref is a no-op.
	DeleteRef(ref Ref)

	ExceptionOccurred() *Exception
	ExceptionClear()
	// Detach ends the attachment and releases any references it still holds.
	Detach()
}

// VM attaches callers to the host runtime.
type VM interface {
	Attach(ctx context.Context) (Env, error)
}
