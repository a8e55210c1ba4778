package aidl

import (
	"context"
	"log/slog"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/parcel"
)

// ListenerDescriptor is the interface token of IUListener.
const ListenerDescriptor = "org.eclipse.uprotocol.core.ubus.IUListener"

// TransactionOnReceive is IUListener.onReceive.
var TransactionOnReceive = Code(0)

// IUListener is the inbound delivery contract: the host calls OnReceive with
// a listener handle and a framed message. The call is oneway.
type IUListener interface {
	OnReceive(ctx context.Context, handle int64, message []byte) error
}

// IUListenerAsync is the client view whose calls return futures.
type IUListenerAsync interface {
	OnReceive(ctx context.Context, handle int64, message []byte) *Future[struct{}]
}

// IUListenerAsyncServer is implemented by services that handle deliveries
// asynchronously; see NewListenerAsyncStub.
type IUListenerAsyncServer interface {
	OnReceive(ctx context.Context, handle int64, message []byte) *Future[struct{}]
}

// ListenerProxy calls a remote IUListener.
type ListenerProxy struct {
	proxy
	def IUListener
}

// NewListenerProxy wraps remote. def, if non-nil, handles calls the remote
// side reports as unknown.
func NewListenerProxy(remote binder.IBinder, def IUListener) *ListenerProxy {
	return &ListenerProxy{proxy: proxy{remote: remote, descriptor: ListenerDescriptor}, def: def}
}

func (p *ListenerProxy) OnReceive(ctx context.Context, handle int64, message []byte) error {
	_, err := p.call(ctx, TransactionOnReceive, true, func(d *parcel.Parcel) error {
		d.WriteInt64(handle)
		return d.WriteByteArray(message)
	})
	if IsUnknownTransaction(err) {
		if p.def != nil {
			return p.def.OnReceive(ctx, handle, message)
		}
		return ErrProtocolMismatch
	}
	return err
}

// Async returns the future-returning view of p. Futures resolve immediately
// with the synchronous result.
func (p *ListenerProxy) Async() IUListenerAsync { return listenerAsync{p} }

type listenerAsync struct{ p *ListenerProxy }

func (a listenerAsync) OnReceive(ctx context.Context, handle int64, message []byte) *Future[struct{}] {
	return Ready(struct{}{}, a.p.OnReceive(ctx, handle, message))
}

// NewListenerStub serves impl as an IUListener binder object.
func NewListenerStub(impl IUListener, log *slog.Logger) *binder.Binder {
	return NewStub(ListenerDescriptor, []Method{
		{
			Name:   "onReceive",
			Oneway: true,
			Handle: func(ctx context.Context, data, _ *parcel.Parcel) error {
				handle, err := data.ReadInt64()
				if err != nil {
					return err
				}
				msg, err := data.ReadByteArray()
				if err != nil {
					return err
				}
				return impl.OnReceive(ctx, handle, msg)
			},
		},
	}, log)
}

// NewListenerAsyncStub serves an async implementation. Each delivery is run
// on rt and the dispatching goroutine waits for it.
func NewListenerAsyncStub(impl IUListenerAsyncServer, rt Runtime, log *slog.Logger) *binder.Binder {
	return NewListenerStub(blockingListener{impl: impl, rt: rt}, log)
}

type blockingListener struct {
	impl IUListenerAsyncServer
	rt   Runtime
}

func (b blockingListener) OnReceive(ctx context.Context, handle int64, message []byte) error {
	f := Spawn(b.rt, func() (struct{}, error) {
		return b.impl.OnReceive(ctx, handle, message).Await(ctx)
	})
	_, err := f.Await(ctx)
	return err
}

// ListenerFunc adapts a function to IUListener.
type ListenerFunc func(ctx context.Context, handle int64, message []byte) error

func (f ListenerFunc) OnReceive(ctx context.Context, handle int64, message []byte) error {
	return f(ctx, handle, message)
}
