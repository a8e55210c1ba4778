package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithrel/upbridge/internal/bridge"
	"github.com/mithrel/upbridge/internal/host"
	"github.com/mithrel/upbridge/internal/host/loopback"
	"github.com/mithrel/upbridge/pkg/api"
)

type recorder struct {
	mu   sync.Mutex
	msgs []api.Message
}

func (r *recorder) OnReceive(_ context.Context, m api.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) snapshot() []api.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Message(nil), r.msgs...)
}

var doorTopic = api.MustParseURI("//veh/body.access/1/door.front_left#Door")

func newTestServer(t *testing.T, opts ...Option) (*Client, *bridge.Bridge, *loopback.Host) {
	t.Helper()
	h := loopback.New()
	b := bridge.New(host.NewVM(h, nil))
	h.SetPeer(b.Inbound())
	t.Cleanup(b.Close)
	ts := httptest.NewServer(New(b, nil, opts...).Router())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), b, h
}

func TestHealthz(t *testing.T) {
	c, _, _ := newTestServer(t)
	resp, err := http.Get(c.Base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestPublishDeliversThroughBridge(t *testing.T) {
	c, b, _ := newTestServer(t)
	ctx := context.Background()
	rec := &recorder{}
	require.NoError(t, b.RegisterListener(ctx, doorTopic, rec))

	resp, err := c.Publish(ctx, PublishRequest{Topic: doorTopic.String(), Payload: []byte("open"), Format: "text", Token: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("open"), got[0].Payload)
	assert.Equal(t, api.PayloadFormatText, got[0].Format)
	assert.Equal(t, "x", got[0].Attributes.Token)
	assert.Equal(t, resp.ID, got[0].Attributes.ID.String())
}

func TestPublishRejectsBadInput(t *testing.T) {
	c, _, _ := newTestServer(t)
	ctx := context.Background()

	_, err := c.Publish(ctx, PublishRequest{Topic: "not a uri"})
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, api.CodeInvalidArgument, se.Status.Code)

	_, err = c.Publish(ctx, PublishRequest{Topic: doorTopic.String(), Format: "xml"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, api.CodeInvalidArgument, se.Status.Code)
}

func TestPublishSurfacesHostFailure(t *testing.T) {
	c, _, h := newTestServer(t)
	h.Fail("send", errors.New("boom"))

	_, err := c.Publish(context.Background(), PublishRequest{Topic: doorTopic.String()})
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.NotEqual(t, api.CodeInvalidArgument, se.Status.Code)
}

func TestStatsAndRegistrations(t *testing.T) {
	c, b, _ := newTestServer(t, WithStats("sink", func() any { return map[string]int{"forwarded": 3} }))
	ctx := context.Background()
	require.NoError(t, b.RegisterListener(ctx, doorTopic, &recorder{}))

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Bridge.Registered)
	require.Contains(t, st.Extra, "sink")

	regs, err := c.Registrations(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, doorTopic.String(), regs[0].Topic)
	assert.Equal(t, b.Registry().Registrations()[0].Handle.String(), regs[0].Handle)
}

func TestHostVersion(t *testing.T) {
	c, _, _ := newTestServer(t)
	info, err := c.Host(context.Background())
	require.NoError(t, err)
	assert.Equal(t, loopback.CurrentVersion, info.Version)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, api.PayloadFormatRaw, f)
	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, api.PayloadFormatJSON, f)
	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	_, err := c.Stats(context.Background())
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, api.CodeUnavailable, se.Status.Code)
}
