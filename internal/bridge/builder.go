package bridge

import (
	"errors"
	"log/slog"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/dispatch"
	"github.com/mithrel/upbridge/internal/host"
	"github.com/mithrel/upbridge/internal/registry"
	"github.com/mithrel/upbridge/pkg/api"
)

// Builder assembles a Bridge talking to a remote host service.
type Builder struct {
	// Host is the remote IHostBridge object. Either Host or VM is required.
	Host binder.IBinder
	// VM overrides Host, e.g. for an in-process host.
	VM host.VM

	CollisionPolicy registry.CollisionPolicy
	// Dispatch selects "inline" or "pool" delivery.
	Dispatch string
	Pool     dispatch.Options
	Rollback bool
	Log      *slog.Logger

	// Package and Entity identify the client to the host on Connect.
	Package string
	Entity  api.Entity
}

// NewBuilder returns a builder with the default settings.
func NewBuilder(remote binder.IBinder) *Builder {
	return &Builder{Host: remote, Dispatch: "pool", Rollback: true}
}

// Build creates the bridge. The caller owns it and must Close it.
func (bb *Builder) Build() (*Bridge, error) {
	vm := bb.VM
	if vm == nil {
		if bb.Host == nil {
			return nil, errors.New("bridge: builder needs a host")
		}
		vm = host.NewIPCVM(bb.Host, bb.Log)
	}
	reg := registry.New(registry.WithCollisionPolicy(bb.CollisionPolicy), registry.WithLogger(bb.Log))
	var disp dispatch.Dispatcher
	switch bb.Dispatch {
	case "inline":
		disp = dispatch.Inline{}
	case "", "pool":
		opts := bb.Pool
		opts.Log = bb.Log
		disp = dispatch.NewPool(opts)
	default:
		return nil, errors.New("bridge: unknown dispatch mode " + bb.Dispatch)
	}
	opts := []Option{
		WithRegistry(reg),
		WithDispatcher(disp),
		WithRollback(bb.Rollback),
		WithLogger(bb.Log),
	}
	if bb.Package != "" || bb.Entity.Name != "" {
		opts = append(opts, WithClient(bb.Package, bb.Entity))
	}
	return New(vm, opts...), nil
}
