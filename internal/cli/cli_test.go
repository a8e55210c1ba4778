package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithrel/upbridge/internal/aidl"
	"github.com/mithrel/upbridge/internal/config"
	"github.com/mithrel/upbridge/internal/daemon"
	"github.com/mithrel/upbridge/internal/host/loopback"
	"github.com/mithrel/upbridge/internal/ipc/transport"
	"github.com/mithrel/upbridge/internal/quicnet"
	"github.com/mithrel/upbridge/internal/wire"
)

const doorURI = "//veh/body.access/1/door.front_left#Door"

// isolate keeps the user's config and environment out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("UPBRIDGE_LOG_LEVEL", "error")
	dir, err := os.MkdirTemp("", "upbc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("UPBRIDGE_RUNTIME_DIR", dir)
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

// startHost serves a loopback host in dir the way `upbridge host` does.
func startHost(t *testing.T, dir string) *loopback.Host {
	t.Helper()
	h := loopback.New()
	h.SetPeer(aidl.NewListenerProxy(transport.NewUnixClient(filepath.Join(dir, "listener.sock")), nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.NewUnixServer(transport.UnixListener{Path: filepath.Join(dir, "host.sock")}, nil).
			Serve(ctx, aidl.NewHostBridgeStub(h, nil))
	}()
	t.Cleanup(func() { cancel(); <-done })
	waitForFile(t, filepath.Join(dir, "host.sock"))
	return h
}

func startDaemon(t *testing.T, subs ...string) *daemon.Daemon {
	t.Helper()
	v := viper.New()
	v.Set("http_addr", "127.0.0.1:0")
	v.Set("subscriptions", subs)
	require.NoError(t, config.Load(context.Background(), v))
	app, err := wire.BuildApp(context.Background(), v)
	require.NoError(t, err)
	d, err := daemon.New(app)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)
	t.Setenv("UPBRIDGE_HTTP_ADDR", d.HTTPAddr())
	return d
}

func TestConfigGenerate(t *testing.T) {
	isolate(t)
	out := filepath.Join(t.TempDir(), "config.toml")

	stdout, err := run(t, "config", "generate", "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote "+out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# upbridge configuration (TOML)"))

	_, err = run(t, "config", "generate", "-o", out)
	assert.ErrorContains(t, err, "already exists")

	stdout, err = run(t, "config", "generate", "-o", out, "--update")
	require.NoError(t, err)
	assert.Contains(t, stdout, "already up to date")

	_, err = run(t, "config", "generate", "-o", out, "--update", "--overwrite")
	assert.Error(t, err)

	stdout, err = run(t, "--config", out, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Config OK ("+out+")")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	isolate(t)
	t.Setenv("UPBRIDGE_DISPATCH_POLICY", "bogus")

	_, err := run(t, "status")
	assert.ErrorContains(t, err, "invalid config")

	// config commands still run so a broken config can be inspected.
	_, err = run(t, "config", "check")
	assert.ErrorContains(t, err, "dispatch.policy")
}

func TestReadPayload(t *testing.T) {
	p, err := readPayload(nil, []string{doorURI, "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), p)

	p, err = readPayload(strings.NewReader("from stdin"), []string{doorURI}, "-")
	require.NoError(t, err)
	assert.Equal(t, []byte("from stdin"), p)

	f := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(f, []byte{1, 2, 3}, 0o600))
	p, err = readPayload(nil, []string{doorURI}, f)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p)

	_, err = readPayload(nil, []string{doorURI, "x"}, f)
	assert.Error(t, err)

	p, err = readPayload(nil, []string{doorURI}, "")
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestPublishAndStatusThroughDaemon(t *testing.T) {
	dir := isolate(t)
	h := startHost(t, dir)
	d := startDaemon(t, doorURI)

	stdout, err := run(t, "publish", doorURI, "open", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Published ")
	require.Eventually(t, func() bool { return d.Bridge().Stats().Delivered == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().Sent)

	stdout, err = run(t, "status", "--json")
	require.NoError(t, err)
	var rep statusReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 1, rep.Stats.Bridge.Registered)
	require.Len(t, rep.Registrations, 1)
	assert.Equal(t, doorURI, rep.Registrations[0].Topic)
	require.NotNil(t, rep.HostVersion)
	assert.Equal(t, loopback.CurrentVersion, *rep.HostVersion)

	stdout, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Host: version 2")
	assert.Contains(t, stdout, "delivered")
	assert.Contains(t, stdout, doorURI)
}

func TestPublishDirect(t *testing.T) {
	dir := isolate(t)
	h := startHost(t, dir)

	stdout, err := run(t, "publish", "--direct", doorURI, "x")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Published ")
	assert.Equal(t, int64(1), h.Stats().Sent)

	_, err = run(t, "publish", "--direct", "not-a-uri")
	assert.Error(t, err)
}

func TestStatusWithoutDaemon(t *testing.T) {
	isolate(t)
	t.Setenv("UPBRIDGE_HTTP_ADDR", "127.0.0.1:1")
	_, err := run(t, "status")
	assert.ErrorContains(t, err, "daemon unreachable")
}

func TestCompletion(t *testing.T) {
	isolate(t)
	stdout, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "upbridge")
}

func TestTLSOptionsFromConfig(t *testing.T) {
	o := tlsOptions(config.Config{TLSCertFile: "c.pem", TLSKeyFile: "k.pem", TLSDomain: "host.example", TLSEmail: "ops@example.com"})
	assert.Equal(t, "c.pem", o.CertFile)
	assert.Equal(t, "k.pem", o.KeyFile)
	assert.Equal(t, "host.example", o.Domain)
	assert.Equal(t, "ops@example.com", o.Email)

	_, _, err := quicnet.ServerTLS(context.Background(), tlsOptions(config.Config{TLSCertFile: "missing.pem"}))
	assert.Error(t, err)
}
