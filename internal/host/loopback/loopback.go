// Package loopback is an in-memory host service. It keeps its own object
// table and subscription set and delivers sent messages back to a native
// IUListener peer, which is enough to run the bridge end to end without the
// real host runtime.
package loopback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"

	"github.com/mithrel/upbridge/internal/aidl"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/parcel"
	"github.com/mithrel/upbridge/pkg/api"
)

// CurrentVersion is the IHostBridge version this host implements.
const CurrentVersion int32 = 2

type objectKind int

const (
	kindTopic objectKind = iota + 1
	kindListener
)

type object struct {
	kind   objectKind
	topic  api.URI
	handle uint64
}

// subscribers is the set of listener handles registered on one topic. Host
// listeners compare equal when they forward to the same handle.
type subscribers struct {
	topic   api.URI
	handles *haxmap.Map[uint64, struct{}]
}

// Client is a native client that announced itself with registerClient.
type Client struct {
	Package string
	Entity  api.Entity
	Flags   int32
}

// Stats is a snapshot of host activity.
type Stats struct {
	Clients       int   `json:"clients"`
	Objects       int   `json:"objects"`
	Topics        int   `json:"topics"`
	Subscriptions int   `json:"subscriptions"`
	Sent          int64 `json:"sent"`
	Delivered     int64 `json:"delivered"`
}

// Host implements aidl.IHostBridge in memory.
type Host struct {
	log     *slog.Logger
	version int32

	nextRef atomic.Int64
	objects *haxmap.Map[int64, object]
	topics  *haxmap.Map[string, *subscribers]
	clients *haxmap.Map[string, Client]
	faults  *haxmap.Map[string, error]

	// subMu serializes subscription changes so a topic entry is never
	// removed while another registration is adding to it.
	subMu sync.Mutex

	peerMu sync.RWMutex
	peer   aidl.IUListener

	sent      atomic.Int64
	delivered atomic.Int64
}

type Option func(*Host)

// WithVersion makes the host behave like an older release. Version 1 hosts
// do not implement send, getInterfaceVersion or registerClient.
func WithVersion(v int32) Option { return func(h *Host) { h.version = v } }

func WithLogger(l *slog.Logger) Option { return func(h *Host) { h.log = l } }

func New(opts ...Option) *Host {
	h := &Host{
		version: CurrentVersion,
		objects: haxmap.New[int64, object](),
		topics:  haxmap.New[string, *subscribers](),
		clients: haxmap.New[string, Client](),
		faults:  haxmap.New[string, error](),
	}
	for _, o := range opts {
		o(h)
	}
	h.log = logging.OrDiscard(h.log).With(logging.Component("loopback"))
	return h
}

// SetPeer sets the native listener that receives delivered messages.
func (h *Host) SetPeer(peer aidl.IUListener) {
	h.peerMu.Lock()
	defer h.peerMu.Unlock()
	h.peer = peer
}

// Fail makes the next call to method raise err as a host exception. method
// is the IHostBridge method name, e.g. "registerListener".
func (h *Host) Fail(method string, err error) { h.faults.Set(method, err) }

func (h *Host) fault(method string) error {
	err, ok := h.faults.Get(method)
	if !ok {
		return nil
	}
	h.faults.Del(method)
	var se *aidl.ServiceException
	if errors.As(err, &se) {
		return se
	}
	return aidl.NewServiceException(aidl.ExIllegalState, err.Error())
}

func (h *Host) put(o object) int64 {
	ref := h.nextRef.Add(1)
	h.objects.Set(ref, o)
	return ref
}

func (h *Host) lookup(ref int64, kind objectKind) (object, error) {
	o, ok := h.objects.Get(ref)
	if !ok || o.kind != kind {
		return object{}, aidl.NewServiceException(aidl.ExIllegalArgument, "unknown reference")
	}
	return o, nil
}

func topicKey(u api.URI) string {
	b, _ := u.MarshalBinary()
	return string(b)
}

func (h *Host) NewListenerBridge(_ context.Context, handle int64) (int64, error) {
	if err := h.fault("newListenerBridge"); err != nil {
		return 0, err
	}
	return h.put(object{kind: kindListener, handle: uint64(handle)}), nil
}

func (h *Host) TopicFromBytes(_ context.Context, b []byte) (int64, error) {
	if err := h.fault("topicFromBytes"); err != nil {
		return 0, err
	}
	var u api.URI
	if err := parcel.Decode(b, &u); err != nil {
		return 0, aidl.NewServiceException(aidl.ExIllegalArgument, err.Error())
	}
	return h.put(object{kind: kindTopic, topic: u}), nil
}

func (h *Host) TopicToBytes(_ context.Context, ref int64) ([]byte, error) {
	if err := h.fault("topicToBytes"); err != nil {
		return nil, err
	}
	o, err := h.lookup(ref, kindTopic)
	if err != nil {
		return nil, err
	}
	return parcel.Encode(o.topic)
}

func (h *Host) RegisterListener(_ context.Context, topicRef, listenerRef int64) (api.Status, error) {
	if err := h.fault("registerListener"); err != nil {
		return api.Status{}, err
	}
	t, err := h.lookup(topicRef, kindTopic)
	if err != nil {
		return api.Status{}, err
	}
	l, err := h.lookup(listenerRef, kindListener)
	if err != nil {
		return api.Status{}, err
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()
	subs, _ := h.topics.GetOrCompute(topicKey(t.topic), func() *subscribers {
		return &subscribers{topic: t.topic, handles: haxmap.New[uint64, struct{}]()}
	})
	subs.handles.Set(l.handle, struct{}{})
	h.log.Debug("listener registered", logging.Topic(t.topic), logging.Handle(l.handle))
	return api.OK, nil
}

func (h *Host) UnregisterListener(_ context.Context, topicRef, listenerRef int64) (api.Status, error) {
	if err := h.fault("unregisterListener"); err != nil {
		return api.Status{}, err
	}
	t, err := h.lookup(topicRef, kindTopic)
	if err != nil {
		return api.Status{}, err
	}
	l, err := h.lookup(listenerRef, kindListener)
	if err != nil {
		return api.Status{}, err
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()
	key := topicKey(t.topic)
	subs, ok := h.topics.Get(key)
	if !ok {
		return api.NewStatus(api.CodeNotFound, "no listeners on %s", t.topic), nil
	}
	if _, ok := subs.handles.Get(l.handle); !ok {
		return api.NewStatus(api.CodeNotFound, "listener not registered on %s", t.topic), nil
	}
	subs.handles.Del(l.handle)
	if subs.handles.Len() == 0 {
		h.topics.Del(key)
	}
	return api.OK, nil
}

func (h *Host) DeleteRef(_ context.Context, ref int64) error {
	if err := h.fault("deleteRef"); err != nil {
		return err
	}
	h.objects.Del(ref)
	return nil
}

// Send delivers msg to every listener registered on its source topic.
func (h *Host) Send(ctx context.Context, msg api.Message) (api.Status, error) {
	if h.version < 2 {
		return api.Status{}, aidl.ErrProtocolMismatch
	}
	if err := h.fault("send"); err != nil {
		return api.Status{}, err
	}
	h.sent.Add(1)
	subs, ok := h.topics.Get(topicKey(msg.Attributes.Source))
	if !ok {
		return api.OK, nil
	}
	h.peerMu.RLock()
	peer := h.peer
	h.peerMu.RUnlock()
	if peer == nil {
		return api.NewStatus(api.CodeUnavailable, "no listener peer attached"), nil
	}
	data, err := parcel.Encode(msg)
	if err != nil {
		return api.NewStatus(api.CodeInvalidArgument, "encode: %v", err), nil
	}
	subs.handles.ForEach(func(handle uint64, _ struct{}) bool {
		if err := peer.OnReceive(ctx, int64(handle), data); err != nil {
			h.log.Warn("delivery failed", logging.Handle(handle), logging.Err(err))
			return true
		}
		h.delivered.Add(1)
		return true
	})
	return api.OK, nil
}

func (h *Host) GetInterfaceVersion(context.Context) (int32, error) {
	if h.version < 2 {
		return 0, aidl.ErrProtocolMismatch
	}
	return h.version, nil
}

// RegisterClient records the client under token. Registering the same token
// again replaces the record; a token already held by another package is
// refused.
func (h *Host) RegisterClient(_ context.Context, pkg string, entity api.Entity, token string, flags int32) (api.Status, error) {
	if h.version < 2 {
		return api.Status{}, aidl.ErrProtocolMismatch
	}
	if err := h.fault("registerClient"); err != nil {
		return api.Status{}, err
	}
	switch {
	case pkg == "":
		return api.NewStatus(api.CodeInvalidArgument, "package is required"), nil
	case entity.Name == "":
		return api.NewStatus(api.CodeInvalidArgument, "entity name is required"), nil
	case token == "":
		return api.NewStatus(api.CodeInvalidArgument, "client token is required"), nil
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if c, ok := h.clients.Get(token); ok && c.Package != pkg {
		return api.NewStatus(api.CodeAlreadyExists, "token already registered by %s", c.Package), nil
	}
	h.clients.Set(token, Client{Package: pkg, Entity: entity, Flags: flags})
	h.log.Debug("client registered", slog.String("package", pkg), slog.String("entity", entity.Name))
	return api.OK, nil
}

// ClientFor returns the client registered under token.
func (h *Host) ClientFor(token string) (Client, bool) { return h.clients.Get(token) }

// Subscribed reports whether handle is registered on topic.
func (h *Host) Subscribed(topic api.URI, handle uint64) bool {
	subs, ok := h.topics.Get(topicKey(topic))
	if !ok {
		return false
	}
	_, ok = subs.handles.Get(handle)
	return ok
}

func (h *Host) Stats() Stats {
	st := Stats{
		Clients:   int(h.clients.Len()),
		Objects:   int(h.objects.Len()),
		Topics:    int(h.topics.Len()),
		Sent:      h.sent.Load(),
		Delivered: h.delivered.Load(),
	}
	h.topics.ForEach(func(_ string, s *subscribers) bool {
		st.Subscriptions += int(s.handles.Len())
		return true
	})
	return st
}

var _ aidl.IHostBridge = (*Host)(nil)
