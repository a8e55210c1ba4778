package aidl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/parcel"
	"github.com/mithrel/upbridge/pkg/api"
)

type recordedCall struct {
	handle int64
	msg    []byte
}

type recordingListener struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *recordingListener) OnReceive(_ context.Context, handle int64, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{handle, msg})
	return nil
}

func (r *recordingListener) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func unknownEverything() binder.IBinder {
	return binder.New("test.Empty", func(context.Context, binder.TransactionCode, *parcel.Parcel, *parcel.Parcel, binder.Flags) error {
		return binder.UnknownTransaction
	}, nil)
}

func TestListenerProxyStub(t *testing.T) {
	impl := &recordingListener{}
	p := NewListenerProxy(NewListenerStub(impl, nil), nil)

	require.NoError(t, p.OnReceive(context.Background(), 7, []byte{1, 2, 3}))
	require.NoError(t, p.Async().OnReceive(context.Background(), 8, nil).err)

	calls := impl.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(7), calls[0].handle)
	assert.Equal(t, []byte{1, 2, 3}, calls[0].msg)
	assert.Equal(t, int64(8), calls[1].handle)
	assert.Nil(t, calls[1].msg)
}

func TestListenerFallback(t *testing.T) {
	t.Run("default configured", func(t *testing.T) {
		def := &recordingListener{}
		p := NewListenerProxy(unknownEverything(), def)
		require.NoError(t, p.OnReceive(context.Background(), 42, []byte("x")))
		calls := def.snapshot()
		require.Len(t, calls, 1)
		assert.Equal(t, int64(42), calls[0].handle)
	})
	t.Run("no default", func(t *testing.T) {
		p := NewListenerProxy(unknownEverything(), nil)
		err := p.OnReceive(context.Background(), 42, nil)
		assert.ErrorIs(t, err, ErrProtocolMismatch)
		assert.ErrorIs(t, err, binder.UnknownTransaction)
	})
	t.Run("defaults are per proxy", func(t *testing.T) {
		def := &recordingListener{}
		_ = NewListenerProxy(unknownEverything(), def)
		other := NewListenerProxy(unknownEverything(), nil)
		assert.ErrorIs(t, other.OnReceive(context.Background(), 1, nil), ErrProtocolMismatch)
		assert.Empty(t, def.snapshot())
	})
}

func TestStubRejectsWrongInterfaceToken(t *testing.T) {
	stub := NewListenerStub(&recordingListener{}, nil)
	data := parcel.New()
	require.NoError(t, data.WriteInterfaceToken("some.other.Interface"))
	data.WriteInt64(1)
	require.NoError(t, data.WriteByteArray(nil))

	_, err := stub.Transact(context.Background(), TransactionOnReceive, data, 0)
	assert.ErrorIs(t, err, binder.BadType)
}

func TestStubUnknownCode(t *testing.T) {
	stub := NewListenerStub(&recordingListener{}, nil)
	_, err := stub.Transact(context.Background(), Code(5), parcel.New(), 0)
	assert.ErrorIs(t, err, binder.UnknownTransaction)
}

type fakeHost struct {
	mu        sync.Mutex
	next      int64
	topics    map[int64][]byte
	sent      []api.Message
	deleted   []int64
	failRegis error
	clients   []string
}

func newFakeHost() *fakeHost { return &fakeHost{topics: map[int64][]byte{}} }

func (h *fakeHost) NewListenerBridge(_ context.Context, handle int64) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	return 1000 + handle, nil
}

func (h *fakeHost) TopicFromBytes(_ context.Context, b []byte) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.topics[h.next] = b
	return h.next, nil
}

func (h *fakeHost) TopicToBytes(_ context.Context, ref int64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.topics[ref]
	if !ok {
		return nil, NewServiceException(ExIllegalArgument, "no such topic")
	}
	return b, nil
}

func (h *fakeHost) RegisterListener(context.Context, int64, int64) (api.Status, error) {
	if h.failRegis != nil {
		return api.Status{}, h.failRegis
	}
	return api.OK, nil
}

func (h *fakeHost) UnregisterListener(context.Context, int64, int64) (api.Status, error) {
	return api.NewStatus(api.CodeNotFound, "not registered"), nil
}

func (h *fakeHost) DeleteRef(_ context.Context, ref int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, ref)
	return nil
}

func (h *fakeHost) Send(_ context.Context, msg api.Message) (api.Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	return api.OK, nil
}

func (h *fakeHost) GetInterfaceVersion(context.Context) (int32, error) { return 2, nil }

func (h *fakeHost) RegisterClient(_ context.Context, pkg string, entity api.Entity, token string, flags int32) (api.Status, error) {
	if token == "" {
		return api.NewStatus(api.CodeInvalidArgument, "empty token"), nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients = append(h.clients, fmt.Sprintf("%s/%s/%d/%s/%d", pkg, entity.Name, entity.VersionMajor, token, flags))
	return api.OK, nil
}

func TestHostBridgeRegisterClient(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	p := NewHostBridgeProxy(NewHostBridgeStub(host, nil), CompatDefaults{})
	entity := api.Entity{Name: "body.access", VersionMajor: 1}

	st, err := p.RegisterClient(ctx, "org.example.door", entity, "tok-1", 0)
	require.NoError(t, err)
	assert.True(t, st.IsOK())
	assert.Equal(t, []string{"org.example.door/body.access/1/tok-1/0"}, host.clients)

	st, err = p.RegisterClient(ctx, "org.example.door", entity, "", 0)
	require.NoError(t, err)
	assert.Equal(t, api.CodeInvalidArgument, st.Code)
}

func TestRegisterClientOnOlderHost(t *testing.T) {
	// A host stub that stops before registerClient answers with
	// UnknownTransaction; the compat default accepts the client.
	older := binder.New(HostBridgeDescriptor, func(_ context.Context, code binder.TransactionCode, _, _ *parcel.Parcel, _ binder.Flags) error {
		if code == TransactionRegisterClient {
			return binder.UnknownTransaction
		}
		return nil
	}, nil)
	st, err := NewHostBridgeProxy(older, CompatDefaults{}).RegisterClient(context.Background(), "pkg", api.Entity{Name: "e"}, "t", 0)
	require.NoError(t, err)
	assert.True(t, st.IsOK())

	_, err = NewHostBridgeProxy(older, nil).RegisterClient(context.Background(), "pkg", api.Entity{Name: "e"}, "t", 0)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestHostBridgeProxyStub(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	p := NewHostBridgeProxy(NewHostBridgeStub(host, nil), CompatDefaults{})

	ref, err := p.NewListenerBridge(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1005), ref)

	topicRef, err := p.TopicFromBytes(ctx, []byte{9, 9})
	require.NoError(t, err)
	b, err := p.TopicToBytes(ctx, topicRef)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, b)

	st, err := p.RegisterListener(ctx, topicRef, ref)
	require.NoError(t, err)
	assert.True(t, st.IsOK())

	st, err = p.UnregisterListener(ctx, topicRef, ref)
	require.NoError(t, err)
	assert.Equal(t, api.CodeNotFound, st.Code)
	assert.Equal(t, "not registered", st.Message)

	require.NoError(t, p.DeleteRef(ctx, ref))
	assert.Equal(t, []int64{ref}, host.deleted)

	msg := api.NewPublish(api.MustParseURI("//veh/body.access/1/door.front_left#Door"), []byte("open"), api.PayloadFormatText)
	st, err = p.Send(ctx, msg)
	require.NoError(t, err)
	assert.True(t, st.IsOK())
	require.Len(t, host.sent, 1)
	assert.Equal(t, msg, host.sent[0])

	v, err := p.GetInterfaceVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestHostBridgeServiceException(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	p := NewHostBridgeProxy(NewHostBridgeStub(host, nil), nil)

	_, err := p.TopicToBytes(ctx, 99)
	var se *ServiceException
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ExIllegalArgument, se.Code)
	assert.Equal(t, "no such topic", se.Message)

	host.failRegis = errors.New("boom")
	_, err = p.RegisterListener(ctx, 1, 2)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ExIllegalState, se.Code)
	assert.Equal(t, "boom", se.Message)
}

// oldHost answers only the methods declared before send.
func oldHost(t *testing.T) binder.IBinder {
	t.Helper()
	full := NewHostBridgeStub(newFakeHost(), nil)
	return binder.New(HostBridgeDescriptor, func(ctx context.Context, code binder.TransactionCode, data, reply *parcel.Parcel, flags binder.Flags) error {
		if code >= TransactionSend {
			return binder.UnknownTransaction
		}
		out, err := full.Transact(ctx, code, data, flags)
		if err != nil {
			return err
		}
		if out != nil {
			reply.Append(out.Bytes())
		}
		return nil
	}, nil)
}

func TestHostBridgeCompatDefaults(t *testing.T) {
	ctx := context.Background()

	p := NewHostBridgeProxy(oldHost(t), CompatDefaults{})
	v, err := p.GetInterfaceVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
	st, err := p.Send(ctx, api.Message{})
	require.NoError(t, err)
	assert.Equal(t, api.CodeUnimplemented, st.Code)

	ref, err := p.NewListenerBridge(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), ref)

	bare := NewHostBridgeProxy(oldHost(t), nil)
	_, err = bare.GetInterfaceVersion(ctx)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestCompatDefaultsServedByStub(t *testing.T) {
	// A stub over CompatDefaults behaves like a host that knows nothing but
	// the version and send methods.
	p := NewHostBridgeProxy(NewHostBridgeStub(CompatDefaults{}, nil), nil)
	_, err := p.NewListenerBridge(context.Background(), 1)
	assert.ErrorIs(t, err, binder.UnknownTransaction)
	v, err := p.GetInterfaceVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
}

type asyncListener struct{ rec *recordingListener }

func (a asyncListener) OnReceive(ctx context.Context, handle int64, msg []byte) *Future[struct{}] {
	return Spawn(GoRuntime{}, func() (struct{}, error) {
		return struct{}{}, a.rec.OnReceive(ctx, handle, msg)
	})
}

func TestListenerAsyncStub(t *testing.T) {
	rec := &recordingListener{}
	p := NewListenerProxy(NewListenerAsyncStub(asyncListener{rec}, GoRuntime{}, nil), nil)
	require.NoError(t, p.OnReceive(context.Background(), 3, []byte{4}))
	// The stub waits for the async handler before returning.
	assert.Len(t, rec.snapshot(), 1)
}

func TestFuture(t *testing.T) {
	f := Ready(5, nil)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	release := make(chan struct{})
	g := Spawn(nil, func() (string, error) {
		<-release
		return "done", nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	s, err := g.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", s)
}
