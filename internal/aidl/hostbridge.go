package aidl

import (
	"context"
	"log/slog"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/parcel"
	"github.com/mithrel/upbridge/pkg/api"
)

// HostBridgeDescriptor is the interface token of IHostBridge.
const HostBridgeDescriptor = "org.eclipse.uprotocol.bridge.IHostBridge"

// IHostBridge method codes, in declaration order.
var (
	TransactionNewListenerBridge   = Code(0)
	TransactionTopicFromBytes      = Code(1)
	TransactionTopicToBytes        = Code(2)
	TransactionRegisterListener    = Code(3)
	TransactionUnregisterListener  = Code(4)
	TransactionDeleteRef           = Code(5)
	TransactionSend                = Code(6)
	TransactionGetInterfaceVersion = Code(7)
	TransactionRegisterClient      = Code(8)
)

// IHostBridge is the host service surface. References are opaque int64
// values owned by the host; DeleteRef releases one.
type IHostBridge interface {
	// NewListenerBridge creates a host-side listener that forwards to the
	// native side under handle.
	NewListenerBridge(ctx context.Context, handle int64) (int64, error)
	// TopicFromBytes reconstructs a host topic from its canonical framing.
	TopicFromBytes(ctx context.Context, topic []byte) (int64, error)
	TopicToBytes(ctx context.Context, topicRef int64) ([]byte, error)
	RegisterListener(ctx context.Context, topicRef, listenerRef int64) (api.Status, error)
	UnregisterListener(ctx context.Context, topicRef, listenerRef int64) (api.Status, error)
	DeleteRef(ctx context.Context, ref int64) error
	Send(ctx context.Context, msg api.Message) (api.Status, error)
	GetInterfaceVersion(ctx context.Context) (int32, error)
	// RegisterClient announces the native client before it registers
	// listeners or sends. token identifies the client for its lifetime.
	RegisterClient(ctx context.Context, pkg string, entity api.Entity, token string, flags int32) (api.Status, error)
}

// CompatDefaults answers the methods older hosts lack. Methods every host
// version implements report ErrProtocolMismatch.
type CompatDefaults struct{}

func (CompatDefaults) NewListenerBridge(context.Context, int64) (int64, error) {
	return 0, ErrProtocolMismatch
}

func (CompatDefaults) TopicFromBytes(context.Context, []byte) (int64, error) {
	return 0, ErrProtocolMismatch
}

func (CompatDefaults) TopicToBytes(context.Context, int64) ([]byte, error) {
	return nil, ErrProtocolMismatch
}

func (CompatDefaults) RegisterListener(context.Context, int64, int64) (api.Status, error) {
	return api.Status{}, ErrProtocolMismatch
}

func (CompatDefaults) UnregisterListener(context.Context, int64, int64) (api.Status, error) {
	return api.Status{}, ErrProtocolMismatch
}

func (CompatDefaults) DeleteRef(context.Context, int64) error { return ErrProtocolMismatch }

func (CompatDefaults) Send(context.Context, api.Message) (api.Status, error) {
	return api.NewStatus(api.CodeUnimplemented, "host does not support send"), nil
}

func (CompatDefaults) GetInterfaceVersion(context.Context) (int32, error) { return 1, nil }

// RegisterClient succeeds: hosts without client registration accept every
// caller.
func (CompatDefaults) RegisterClient(context.Context, string, api.Entity, string, int32) (api.Status, error) {
	return api.OK, nil
}

// HostBridgeProxy calls a remote IHostBridge.
type HostBridgeProxy struct {
	proxy
	def IHostBridge
}

// NewHostBridgeProxy wraps remote. def, if non-nil, handles methods the
// remote side reports as unknown; CompatDefaults{} is the usual choice.
func NewHostBridgeProxy(remote binder.IBinder, def IHostBridge) *HostBridgeProxy {
	return &HostBridgeProxy{proxy: proxy{remote: remote, descriptor: HostBridgeDescriptor}, def: def}
}

// fallback reports whether err should be answered by the default
// implementation, rewriting it to ErrProtocolMismatch when none is set.
func (p *HostBridgeProxy) fallback(err error) (bool, error) {
	if !IsUnknownTransaction(err) {
		return false, err
	}
	if p.def == nil {
		return false, ErrProtocolMismatch
	}
	return true, nil
}

func (p *HostBridgeProxy) NewListenerBridge(ctx context.Context, handle int64) (int64, error) {
	reply, err := p.call(ctx, TransactionNewListenerBridge, false, func(d *parcel.Parcel) error {
		d.WriteInt64(handle)
		return nil
	})
	if use, err := p.fallback(err); use {
		return p.def.NewListenerBridge(ctx, handle)
	} else if err != nil {
		return 0, err
	}
	return reply.ReadInt64()
}

func (p *HostBridgeProxy) TopicFromBytes(ctx context.Context, topic []byte) (int64, error) {
	reply, err := p.call(ctx, TransactionTopicFromBytes, false, func(d *parcel.Parcel) error {
		return d.WriteByteArray(topic)
	})
	if use, err := p.fallback(err); use {
		return p.def.TopicFromBytes(ctx, topic)
	} else if err != nil {
		return 0, err
	}
	return reply.ReadInt64()
}

func (p *HostBridgeProxy) TopicToBytes(ctx context.Context, topicRef int64) ([]byte, error) {
	reply, err := p.call(ctx, TransactionTopicToBytes, false, func(d *parcel.Parcel) error {
		d.WriteInt64(topicRef)
		return nil
	})
	if use, err := p.fallback(err); use {
		return p.def.TopicToBytes(ctx, topicRef)
	} else if err != nil {
		return nil, err
	}
	return reply.ReadByteArray()
}

func (p *HostBridgeProxy) RegisterListener(ctx context.Context, topicRef, listenerRef int64) (api.Status, error) {
	reply, err := p.call(ctx, TransactionRegisterListener, false, writeRefPair(topicRef, listenerRef))
	if use, err := p.fallback(err); use {
		return p.def.RegisterListener(ctx, topicRef, listenerRef)
	} else if err != nil {
		return api.Status{}, err
	}
	return readStatus(reply)
}

func (p *HostBridgeProxy) UnregisterListener(ctx context.Context, topicRef, listenerRef int64) (api.Status, error) {
	reply, err := p.call(ctx, TransactionUnregisterListener, false, writeRefPair(topicRef, listenerRef))
	if use, err := p.fallback(err); use {
		return p.def.UnregisterListener(ctx, topicRef, listenerRef)
	} else if err != nil {
		return api.Status{}, err
	}
	return readStatus(reply)
}

func (p *HostBridgeProxy) DeleteRef(ctx context.Context, ref int64) error {
	_, err := p.call(ctx, TransactionDeleteRef, true, func(d *parcel.Parcel) error {
		d.WriteInt64(ref)
		return nil
	})
	use, err := p.fallback(err)
	if use {
		return p.def.DeleteRef(ctx, ref)
	}
	return err
}

func (p *HostBridgeProxy) Send(ctx context.Context, msg api.Message) (api.Status, error) {
	reply, err := p.call(ctx, TransactionSend, false, func(d *parcel.Parcel) error {
		return parcel.WriteParcelable(d, msg)
	})
	if use, err := p.fallback(err); use {
		return p.def.Send(ctx, msg)
	} else if err != nil {
		return api.Status{}, err
	}
	return readStatus(reply)
}

func (p *HostBridgeProxy) GetInterfaceVersion(ctx context.Context) (int32, error) {
	reply, err := p.call(ctx, TransactionGetInterfaceVersion, false, nil)
	if use, err := p.fallback(err); use {
		return p.def.GetInterfaceVersion(ctx)
	} else if err != nil {
		return 0, err
	}
	return reply.ReadInt32()
}

func (p *HostBridgeProxy) RegisterClient(ctx context.Context, pkg string, entity api.Entity, token string, flags int32) (api.Status, error) {
	reply, err := p.call(ctx, TransactionRegisterClient, false, func(d *parcel.Parcel) error {
		if err := d.WriteString(pkg); err != nil {
			return err
		}
		if err := parcel.WriteParcelable(d, entity); err != nil {
			return err
		}
		if err := d.WriteString(token); err != nil {
			return err
		}
		d.WriteInt32(flags)
		return nil
	})
	if use, err := p.fallback(err); use {
		return p.def.RegisterClient(ctx, pkg, entity, token, flags)
	} else if err != nil {
		return api.Status{}, err
	}
	return readStatus(reply)
}

func writeRefPair(a, b int64) func(*parcel.Parcel) error {
	return func(d *parcel.Parcel) error {
		d.WriteInt64(a)
		d.WriteInt64(b)
		return nil
	}
}

func readStatus(reply *parcel.Parcel) (api.Status, error) {
	var st api.Status
	if err := parcel.ReadParcelable(reply, &st); err != nil {
		return api.Status{}, err
	}
	return st, nil
}

// NewHostBridgeStub serves impl as an IHostBridge binder object.
func NewHostBridgeStub(impl IHostBridge, log *slog.Logger) *binder.Binder {
	return NewStub(HostBridgeDescriptor, []Method{
		{Name: "newListenerBridge", Handle: func(ctx context.Context, data, reply *parcel.Parcel) error {
			h, err := data.ReadInt64()
			if err != nil {
				return err
			}
			ref, err := impl.NewListenerBridge(ctx, h)
			if err != nil {
				return err
			}
			reply.WriteInt64(ref)
			return nil
		}},
		{Name: "topicFromBytes", Handle: func(ctx context.Context, data, reply *parcel.Parcel) error {
			b, err := data.ReadByteArray()
			if err != nil {
				return err
			}
			ref, err := impl.TopicFromBytes(ctx, b)
			if err != nil {
				return err
			}
			reply.WriteInt64(ref)
			return nil
		}},
		{Name: "topicToBytes", Handle: func(ctx context.Context, data, reply *parcel.Parcel) error {
			ref, err := data.ReadInt64()
			if err != nil {
				return err
			}
			b, err := impl.TopicToBytes(ctx, ref)
			if err != nil {
				return err
			}
			return reply.WriteByteArray(b)
		}},
		{Name: "registerListener", Handle: func(ctx context.Context, data, reply *parcel.Parcel) error {
			topic, listener, err := readRefPair(data)
			if err != nil {
				return err
			}
			st, err := impl.RegisterListener(ctx, topic, listener)
			if err != nil {
				return err
			}
			return parcel.WriteParcelable(reply, st)
		}},
		{Name: "unregisterListener", Handle: func(ctx context.Context, data, reply *parcel.Parcel) error {
			topic, listener, err := readRefPair(data)
			if err != nil {
				return err
			}
			st, err := impl.UnregisterListener(ctx, topic, listener)
			if err != nil {
				return err
			}
			return parcel.WriteParcelable(reply, st)
		}},
		{Name: "deleteRef", Oneway: true, Handle: func(ctx context.Context, data, _ *parcel.Parcel) error {
			ref, err := data.ReadInt64()
			if err != nil {
				return err
			}
			return impl.DeleteRef(ctx, ref)
		}},
		{Name: "send", Handle: func(ctx context.Context, data, reply *parcel.Parcel) error {
			var msg api.Message
			if err := parcel.ReadParcelable(data, &msg); err != nil {
				return err
			}
			st, err := impl.Send(ctx, msg)
			if err != nil {
				return err
			}
			return parcel.WriteParcelable(reply, st)
		}},
		{Name: "getInterfaceVersion", Handle: func(ctx context.Context, _, reply *parcel.Parcel) error {
			v, err := impl.GetInterfaceVersion(ctx)
			if err != nil {
				return err
			}
			reply.WriteInt32(v)
			return nil
		}},
		{Name: "registerClient", Handle: func(ctx context.Context, data, reply *parcel.Parcel) error {
			pkg, err := data.ReadString()
			if err != nil {
				return err
			}
			var entity api.Entity
			if err := parcel.ReadParcelable(data, &entity); err != nil {
				return err
			}
			token, err := data.ReadString()
			if err != nil {
				return err
			}
			flags, err := data.ReadInt32()
			if err != nil {
				return err
			}
			st, err := impl.RegisterClient(ctx, pkg, entity, token, flags)
			if err != nil {
				return err
			}
			return parcel.WriteParcelable(reply, st)
		}},
	}, log)
}

func readRefPair(data *parcel.Parcel) (int64, int64, error) {
	a, err := data.ReadInt64()
	if err != nil {
		return 0, 0, err
	}
	b, err := data.ReadInt64()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
