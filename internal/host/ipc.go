package host

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mithrel/upbridge/internal/aidl"
	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/pkg/api"
)

// NewIPCVM returns a VM whose environments talk to the host service behind
// remote. Methods the host does not implement are answered by
// aidl.CompatDefaults.
func NewIPCVM(remote binder.IBinder, log *slog.Logger) VM {
	return NewVM(aidl.NewHostBridgeProxy(remote, aidl.CompatDefaults{}), log)
}

// NewVM returns a VM over any IHostBridge implementation, local or remote.
func NewVM(svc aidl.IHostBridge, log *slog.Logger) VM {
	return &bridgeVM{svc: svc, log: logging.OrDiscard(log).With(logging.Component("host"))}
}

type bridgeVM struct {
	svc aidl.IHostBridge
	log *slog.Logger
}

func (vm *bridgeVM) Attach(ctx context.Context) (Env, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &bridgeEnv{ctx: ctx, svc: vm.svc, log: vm.log}, nil
}

type bridgeEnv struct {
	ctx      context.Context
	svc      aidl.IHostBridge
	log      *slog.Logger
	pending  *Exception
	detached bool
	// refs are the objects this attachment created and has not deleted.
	refs map[Ref]struct{}
}

func (e *bridgeEnv) track(ref Ref) Ref {
	if e.refs == nil {
		e.refs = make(map[Ref]struct{})
	}
	e.refs[ref] = struct{}{}
	return ref
}

// check gates every call on the pending-exception and attachment state.
func (e *bridgeEnv) check() error {
	if e.detached {
		return ErrDetached
	}
	if e.pending != nil {
		return ErrExceptionPending
	}
	return nil
}

// fail records host exceptions as pending; other errors pass through.
func (e *bridgeEnv) fail(method string, err error) error {
	var se *aidl.ServiceException
	if errors.As(err, &se) {
		e.pending = &Exception{Method: method, Err: se}
		return e.pending
	}
	return err
}

func (e *bridgeEnv) NewListenerBridge(handle uint64) (Ref, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	ref, err := e.svc.NewListenerBridge(e.ctx, int64(handle))
	if err != nil {
		return 0, e.fail("newListenerBridge", err)
	}
	if ref == 0 {
		return 0, ErrNullRef
	}
	return e.track(Ref(ref)), nil
}

func (e *bridgeEnv) TopicFromBytes(topic []byte) (Ref, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	ref, err := e.svc.TopicFromBytes(e.ctx, topic)
	if err != nil {
		return 0, e.fail("topicFromBytes", err)
	}
	if ref == 0 {
		return 0, ErrNullRef
	}
	return e.track(Ref(ref)), nil
}

func (e *bridgeEnv) TopicToBytes(topic Ref) ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	b, err := e.svc.TopicToBytes(e.ctx, int64(topic))
	if err != nil {
		return nil, e.fail("topicToBytes", err)
	}
	return b, nil
}

func (e *bridgeEnv) RegisterListener(topic, listener Ref) (api.Status, error) {
	if err := e.check(); err != nil {
		return api.Status{}, err
	}
	st, err := e.svc.RegisterListener(e.ctx, int64(topic), int64(listener))
	if err != nil {
		return api.Status{}, e.fail("registerListener", err)
	}
	return st, nil
}

func (e *bridgeEnv) UnregisterListener(topic, listener Ref) (api.Status, error) {
	if err := e.check(); err != nil {
		return api.Status{}, err
	}
	st, err := e.svc.UnregisterListener(e.ctx, int64(topic), int64(listener))
	if err != nil {
		return api.Status{}, e.fail("unregisterListener", err)
	}
	return st, nil
}

func (e *bridgeEnv) Send(msg api.Message) (api.Status, error) {
	if err := e.check(); err != nil {
		return api.Status{}, err
	}
	st, err := e.svc.Send(e.ctx, msg)
	if err != nil {
		return api.Status{}, e.fail("send", err)
	}
	return st, nil
}

func (e *bridgeEnv) RegisterClient(pkg string, entity api.Entity, token string, flags int32) (api.Status, error) {
	if err := e.check(); err != nil {
		return api.Status{}, err
	}
	st, err := e.svc.RegisterClient(e.ctx, pkg, entity, token, flags)
	if err != nil {
		return api.Status{}, e.fail("registerClient", err)
	}
	return st, nil
}

func (e *bridgeEnv) InterfaceVersion() (int32, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	v, err := e.svc.GetInterfaceVersion(e.ctx)
	if err != nil {
		return 0, e.fail("getInterfaceVersion", err)
	}
	return v, nil
}

// DeleteRef is allowed while an exception is pending so cleanup paths can
// always release what they created.
func (e *bridgeEnv) DeleteRef(ref Ref) {
	if ref.IsNil() || e.detached {
		return
	}
	delete(e.refs, ref)
	if err := e.svc.DeleteRef(e.ctx, int64(ref)); err != nil {
		e.log.Debug("delete ref failed", slog.Int64("ref", int64(ref)), logging.Err(err))
	}
}

func (e *bridgeEnv) ExceptionOccurred() *Exception { return e.pending }

func (e *bridgeEnv) ExceptionClear() { e.pending = nil }

func (e *bridgeEnv) Detach() {
	if e.detached {
		return
	}
	if e.pending != nil {
		e.log.Warn("detaching with pending exception", logging.Err(e.pending))
		e.pending = nil
	}
	for ref := range e.refs {
		e.DeleteRef(ref)
	}
	e.detached = true
}
