package wire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/viper"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/bridge"
	"github.com/mithrel/upbridge/internal/config"
	"github.com/mithrel/upbridge/internal/dispatch"
	"github.com/mithrel/upbridge/internal/ipc"
	"github.com/mithrel/upbridge/internal/ipc/transport"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/quicnet"
	"github.com/mithrel/upbridge/internal/registry"
	"github.com/mithrel/upbridge/pkg/api"
)

// App aggregates the major services for easy injection. The bridge is only
// built by commands that need one.
type App struct {
	Viper *viper.Viper
	Cfg   config.Config
	Log   *slog.Logger

	mu      sync.Mutex
	closers []io.Closer
}

// BuildApp wires the logger and typed config from an already loaded Viper.
func BuildApp(_ context.Context, v *viper.Viper) (*App, error) {
	cfg := config.FromViper(v)
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, err
	}
	return &App{Viper: v, Cfg: cfg, Log: log}, nil
}

// SocketPath resolves an explicit path or the named socket in the runtime dir.
func (a *App) SocketPath(explicit, name string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return ipc.SocketPath(a.Cfg.RuntimeDir, name)
}

// HostBinder returns the remote host service: over QUIC when host.quic_addr
// is set, otherwise over the host unix socket.
func (a *App) HostBinder() (binder.IBinder, error) {
	if a.Cfg.QUICAddr != "" {
		c := quicnet.NewClient(a.Cfg.QUICAddr, a.Cfg.QUICInsecure)
		a.onClose(c)
		return c, nil
	}
	sock, err := a.SocketPath(a.Cfg.HostSocket, "host")
	if err != nil {
		return nil, err
	}
	c := transport.NewUnixClient(sock)
	c.Timeout = a.Cfg.CallTimeout
	return c, nil
}

// NewBridge builds a bridge to the configured host. The app closes it.
func (a *App) NewBridge() (*bridge.Bridge, error) {
	remote, err := a.HostBinder()
	if err != nil {
		return nil, err
	}
	policy, err := registry.ParseCollisionPolicy(a.Cfg.CollisionPolicy)
	if err != nil {
		return nil, err
	}
	dp, err := dispatch.ParsePolicy(a.Cfg.DispatchPolicy)
	if err != nil {
		return nil, err
	}
	bb := bridge.NewBuilder(remote)
	bb.CollisionPolicy = policy
	bb.Dispatch = a.Cfg.DispatchMode
	bb.Pool = dispatch.Options{Workers: a.Cfg.DispatchWorkers, QueueSize: a.Cfg.DispatchQueueSize, Policy: dp}
	bb.Rollback = a.Cfg.RollbackOnFailure
	bb.Log = a.Log
	bb.Package = a.Cfg.ClientPackage
	bb.Entity = api.Entity{Name: a.Cfg.ClientEntity, VersionMajor: uint32(a.Cfg.ClientEntityVersion)}
	b, err := bb.Build()
	if err != nil {
		return nil, fmt.Errorf("build bridge: %w", err)
	}
	a.onClose(closerFunc(func() error { b.Close(); return nil }))
	return b, nil
}

func (a *App) onClose(c io.Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, c)
}

// Close releases everything the app opened, newest first.
func (a *App) Close() error {
	a.mu.Lock()
	cs := a.closers
	a.closers = nil
	a.mu.Unlock()
	var first error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
