package bridge

import (
	"context"
	"log/slog"

	"github.com/mithrel/upbridge/internal/aidl"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/parcel"
	"github.com/mithrel/upbridge/internal/registry"
	"github.com/mithrel/upbridge/pkg/api"
)

// OnReceive is the inbound entry point the host calls with a listener handle
// and a framed message. It never fails: undecodable messages and unknown
// handles are counted and dropped, and listener panics are recovered.
func (b *Bridge) OnReceive(ctx context.Context, handle uint64, data []byte) {
	b.received.Add(1)
	var msg api.Message
	if err := parcel.Decode(data, &msg); err != nil {
		b.decodeErrors.Add(1)
		b.log.Warn("dropping undecodable message", logging.Handle(handle), slog.Int("bytes", len(data)), logging.Err(err))
		return
	}
	l, ok := b.reg.Resolve(registry.Handle(handle))
	if !ok {
		b.unknownHandles.Add(1)
		b.log.Debug("dropping message for unknown handle", logging.Handle(handle))
		return
	}
	// Queued deliveries outlive the host call.
	dctx := context.WithoutCancel(ctx)
	if !b.disp.Submit(handle, func() { b.deliver(dctx, handle, l, msg) }) {
		b.dropped.Add(1)
		b.log.Warn("delivery dropped", logging.Handle(handle))
	}
}

func (b *Bridge) deliver(ctx context.Context, handle uint64, l api.Listener, msg api.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.log.Error("listener panicked", logging.Handle(handle), slog.Any("panic", r))
		}
	}()
	l.OnReceive(ctx, msg)
	b.delivered.Add(1)
}

// Inbound returns the bridge as an IUListener implementation, ready to be
// served with aidl.NewListenerStub.
func (b *Bridge) Inbound() aidl.IUListener {
	return aidl.ListenerFunc(func(ctx context.Context, handle int64, message []byte) error {
		b.OnReceive(ctx, uint64(handle), message)
		return nil
	})
}
