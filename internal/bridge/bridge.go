// Package bridge is the native transport: it registers native listeners with
// the host, forwards sends, and dispatches host deliveries back to the
// listeners they belong to.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mithrel/upbridge/internal/dispatch"
	"github.com/mithrel/upbridge/internal/host"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/parcel"
	"github.com/mithrel/upbridge/internal/registry"
	"github.com/mithrel/upbridge/pkg/api"
)

// Transport is the publish/subscribe surface the bridge offers.
type Transport interface {
	Send(ctx context.Context, msg api.Message) error
	Receive(ctx context.Context, topic api.URI) (api.Message, error)
	RegisterListener(ctx context.Context, topic api.URI, l api.Listener) error
	UnregisterListener(ctx context.Context, topic api.URI, l api.Listener) error
}

// Stats counts bridge activity since creation.
type Stats struct {
	Connected            bool  `json:"connected"`
	Registered           int   `json:"registered"`
	Received             int64 `json:"received"`
	Delivered            int64 `json:"delivered"`
	DecodeErrors         int64 `json:"decode_errors"`
	UnknownHandles       int64 `json:"unknown_handles"`
	Dropped              int64 `json:"dropped"`
	ListenerPanics       int64 `json:"listener_panics"`
	RegistrationFailures int64 `json:"registration_failures"`

	Dispatch *dispatch.Stats `json:"dispatch,omitempty"`
}

type Bridge struct {
	vm       host.VM
	reg      *registry.Registry
	disp     dispatch.Dispatcher
	log      *slog.Logger
	rollback bool

	pkg       string
	entity    api.Entity
	token     string
	connected atomic.Bool

	received       atomic.Int64
	delivered      atomic.Int64
	decodeErrors   atomic.Int64
	unknownHandles atomic.Int64
	dropped        atomic.Int64
	panics         atomic.Int64
	regFailures    atomic.Int64
}

type Option func(*Bridge)

func WithRegistry(r *registry.Registry) Option { return func(b *Bridge) { b.reg = r } }

// WithDispatcher sets where deliveries run. The default runs them inline on
// the host's calling goroutine.
func WithDispatcher(d dispatch.Dispatcher) Option { return func(b *Bridge) { b.disp = d } }

func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.log = l } }

// WithClient sets the identity Connect announces to the host.
func WithClient(pkg string, entity api.Entity) Option {
	return func(b *Bridge) { b.pkg, b.entity = pkg, entity }
}

// WithRollback controls whether a registration the host refused is removed
// from the registry again. It defaults to true.
func WithRollback(on bool) Option { return func(b *Bridge) { b.rollback = on } }

func New(vm host.VM, opts ...Option) *Bridge {
	b := &Bridge{vm: vm, rollback: true, pkg: "upbridge", entity: api.Entity{Name: "upbridge", VersionMajor: 1}, token: uuid.NewString()}
	for _, o := range opts {
		o(b)
	}
	b.log = logging.OrDiscard(b.log).With(logging.Component("bridge"))
	if b.reg == nil {
		b.reg = registry.New(registry.WithLogger(b.log))
	}
	if b.disp == nil {
		b.disp = dispatch.Inline{}
	}
	if d, ok := b.disp.(interface{ OnDrop(func(uint64)) }); ok {
		d.OnDrop(func(handle uint64) {
			b.dropped.Add(1)
			b.log.Warn("delivery evicted from full queue", logging.Handle(handle))
		})
	}
	return b
}

// Registry exposes the registrations the bridge holds.
func (b *Bridge) Registry() *registry.Registry { return b.reg }

// RegisterListener registers l for topic, locally and with the host.
// Registering the same pair again re-issues the host registration under the
// same handle.
func (b *Bridge) RegisterListener(ctx context.Context, topic api.URI, l api.Listener) error {
	const op = "register_listener"
	h, created, err := b.reg.Register(topic, l)
	if err != nil {
		b.regFailures.Add(1)
		return &Error{Op: op, Stage: StageHandle, Err: err}
	}
	if !created {
		if _, ok := b.reg.Lookup(topic, l); !ok {
			// Collision kept the first owner; registering h with the host
			// would route this topic to that owner.
			b.log.Warn("registration skipped after handle collision", logging.Topic(topic), logging.Handle(uint64(h)))
			return nil
		}
	}
	err = b.remote(ctx, op, topic, h, StageRegister, func(env host.Env, t, lr host.Ref) (api.Status, error) {
		return env.RegisterListener(t, lr)
	})
	if err != nil {
		b.regFailures.Add(1)
		if created && b.rollback {
			b.reg.Remove(h)
		}
		b.log.Warn("listener registration failed", logging.Topic(topic), logging.Handle(uint64(h)), logging.Err(err))
		return err
	}
	b.log.Debug("listener registered", logging.Topic(topic), logging.Handle(uint64(h)))
	return nil
}

// UnregisterListener removes l from topic locally, then asks the host to
// drop the matching host listener.
func (b *Bridge) UnregisterListener(ctx context.Context, topic api.URI, l api.Listener) error {
	const op = "unregister_listener"
	h, removed, err := b.reg.Unregister(topic, l)
	if err != nil {
		return &Error{Op: op, Stage: StageHandle, Err: err}
	}
	if !removed {
		st := api.NewStatus(api.CodeNotFound, "listener not registered on %s", topic)
		return &Error{Op: op, Stage: StageHandle, Remote: &st}
	}
	return b.remote(ctx, op, topic, h, StageUnregister, func(env host.Env, t, lr host.Ref) (api.Status, error) {
		return env.UnregisterListener(t, lr)
	})
}

// remote builds the host listener and topic objects for (topic, h) and runs
// call with them. Host references are released before returning.
func (b *Bridge) remote(ctx context.Context, op string, topic api.URI, h registry.Handle, stage Stage,
	call func(env host.Env, topic, listener host.Ref) (api.Status, error)) error {
	env, err := b.vm.Attach(ctx)
	if err != nil {
		return &Error{Op: op, Stage: StageAttach, Err: err}
	}
	defer env.Detach()

	lref, err := host.Call(env, "newListenerBridge", func(e host.Env) (host.Ref, error) {
		return e.NewListenerBridge(uint64(h))
	})
	if err != nil {
		return &Error{Op: op, Stage: StageListener, Err: err}
	}
	defer env.DeleteRef(lref)

	encoded, err := parcel.Encode(topic)
	if err != nil {
		return &Error{Op: op, Stage: StageEncode, Err: err}
	}
	tref, err := host.Call(env, "topicFromBytes", func(e host.Env) (host.Ref, error) {
		return e.TopicFromBytes(encoded)
	})
	if err != nil {
		return &Error{Op: op, Stage: StageTopic, Err: err}
	}
	defer env.DeleteRef(tref)

	st, err := host.Call(env, string(stage), func(e host.Env) (api.Status, error) {
		return call(e, tref, lref)
	})
	if err != nil {
		return &Error{Op: op, Stage: stage, Err: err}
	}
	if !st.IsOK() {
		return &Error{Op: op, Stage: stage, Err: st.Err(), Remote: &st}
	}
	return nil
}

// Send forwards msg to the host. Hosts too old to send answer UNIMPLEMENTED.
func (b *Bridge) Send(ctx context.Context, msg api.Message) error {
	const op = "send"
	if msg.Attributes.ID == uuid.Nil {
		msg.Attributes.ID = api.NewMessageID()
	}
	st, err := host.With(ctx, b.vm, func(env host.Env) (api.Status, error) {
		return host.Call(env, "send", func(e host.Env) (api.Status, error) { return e.Send(msg) })
	})
	if err != nil {
		return &Error{Op: op, Stage: StageSend, Err: err}
	}
	if !st.IsOK() {
		return &Error{Op: op, Stage: StageSend, Err: st.Err(), Remote: &st}
	}
	return nil
}

// Connect registers the bridge as a client of the host under its package,
// entity and token. Hosts that predate client registration accept it.
// Connecting again repeats the registration with the same token.
func (b *Bridge) Connect(ctx context.Context) error {
	const op = "connect"
	st, err := host.With(ctx, b.vm, func(env host.Env) (api.Status, error) {
		return host.Call(env, "registerClient", func(e host.Env) (api.Status, error) {
			return e.RegisterClient(b.pkg, b.entity, b.token, 0)
		})
	})
	if err != nil {
		return &Error{Op: op, Stage: StageConnect, Err: err}
	}
	if !st.IsOK() {
		return &Error{Op: op, Stage: StageConnect, Err: st.Err(), Remote: &st}
	}
	b.connected.Store(true)
	b.log.Debug("connected to host", slog.String("package", b.pkg), slog.String("entity", b.entity.Name))
	return nil
}

// Token identifies this bridge to the host.
func (b *Bridge) Token() string { return b.token }

// Receive is not supported; the bridge only delivers to listeners.
func (b *Bridge) Receive(context.Context, api.URI) (api.Message, error) {
	return api.Message{}, api.NewStatus(api.CodeUnimplemented, "the bridge listens, use RegisterListener").Err()
}

// HostVersion asks the host for its interface version.
func (b *Bridge) HostVersion(ctx context.Context) (int32, error) {
	return host.With(ctx, b.vm, func(env host.Env) (int32, error) {
		return host.Call(env, "getInterfaceVersion", func(e host.Env) (int32, error) { return e.InterfaceVersion() })
	})
}

func (b *Bridge) Stats() Stats {
	st := Stats{
		Connected:            b.connected.Load(),
		Registered:           b.reg.Len(),
		Received:             b.received.Load(),
		Delivered:            b.delivered.Load(),
		DecodeErrors:         b.decodeErrors.Load(),
		UnknownHandles:       b.unknownHandles.Load(),
		Dropped:              b.dropped.Load(),
		ListenerPanics:       b.panics.Load(),
		RegistrationFailures: b.regFailures.Load(),
	}
	if p, ok := b.disp.(interface{ Stats() dispatch.Stats }); ok {
		ds := p.Stats()
		st.Dispatch = &ds
	}
	return st
}

// Close stops the dispatcher after queued deliveries have run.
func (b *Bridge) Close() { b.disp.Close() }

// StatusOf maps an error returned by the bridge to the status a transport
// caller reports.
func StatusOf(err error) api.Status {
	if err == nil {
		return api.OK
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Status()
	}
	return api.StatusFromError(err)
}

var _ Transport = (*Bridge)(nil)
