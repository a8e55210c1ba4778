// Package daemon runs the long-lived bridge process: it serves the listener
// socket the host delivers to, keeps the configured subscriptions registered
// and exposes the status server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/mithrel/upbridge/internal/aidl"
	"github.com/mithrel/upbridge/internal/bridge"
	"github.com/mithrel/upbridge/internal/config"
	"github.com/mithrel/upbridge/internal/ipc"
	"github.com/mithrel/upbridge/internal/ipc/transport"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/server"
	"github.com/mithrel/upbridge/internal/sink"
	"github.com/mithrel/upbridge/internal/wire"
	"github.com/mithrel/upbridge/pkg/api"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another upbridge daemon is already running")

type subscription struct {
	topic    api.URI
	listener api.Listener
	sink     string
}

// Daemon owns the bridge and everything serving it.
type Daemon struct {
	app      *wire.App
	log      *slog.Logger
	lock     *flock.Flock
	lockPath string

	br       *bridge.Bridge
	natsSink *sink.NATS
	subs     []subscription
	// sinkClosers run after the bridge has drained its queued deliveries.
	sinkClosers []func()

	listenerPath string
	httpLn       net.Listener
	httpSrv      *http.Server

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New prepares a daemon for app without starting anything.
func New(app *wire.App) (*Daemon, error) {
	lockPath, err := ipc.LockPath(app.Cfg.RuntimeDir)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		app:      app,
		log:      app.Log.With(logging.Component("daemon")),
		lock:     flock.New(lockPath),
		lockPath: lockPath,
	}, nil
}

// Start acquires the lock, serves the listener socket and the status server,
// then connects to the host and registers the configured subscriptions. A
// failed connect or a subscription the host refuses is logged and skipped.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	if err := d.start(ctx); err != nil {
		d.shutdown()
		return err
	}
	d.running.Store(true)
	d.log.Info("upbridge daemon started",
		slog.String("lock", d.lockPath),
		slog.String("listener", d.listenerPath),
		slog.String("http", d.HTTPAddr()))
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	cfg := d.app.Cfg
	ctx, d.cancel = context.WithCancel(ctx)

	br, err := d.app.NewBridge()
	if err != nil {
		return err
	}
	d.br = br

	d.listenerPath, err = d.app.SocketPath(cfg.ListenerSocket, "listener")
	if err != nil {
		return err
	}
	ln, err := transport.UnixListener{Path: d.listenerPath}.Listen(ctx)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.listenerPath, err)
	}
	stub := aidl.NewListenerStub(br.Inbound(), d.log)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := transport.NewUnixServer(listening{ln}, d.log).Serve(ctx, stub); err != nil {
			d.log.Error("listener socket stopped", logging.Err(err))
		}
	}()

	opts := []server.Option{server.WithCallTimeout(cfg.CallTimeout)}
	if err := d.buildSinks(cfg); err != nil {
		return err
	}
	if d.natsSink != nil {
		opts = append(opts, server.WithStats("nats", func() any {
			fwd, failed := d.natsSink.Counts()
			return map[string]int64{"forwarded": fwd, "failed": failed}
		}))
	}
	d.httpLn, err = net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	d.httpSrv = &http.Server{
		Handler:           server.New(br, d.log, opts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.httpSrv.Serve(d.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("status server stopped", logging.Err(err))
		}
	}()

	d.registerAll(ctx)
	return nil
}

func (d *Daemon) buildSinks(cfg config.Config) error {
	logSink := sink.NewLog(d.app.Log)
	for _, s := range cfg.Subscriptions {
		topic, err := api.ParseURI(s.Topic)
		if err != nil {
			return fmt.Errorf("subscription %q: %w", s.Topic, err)
		}
		var l api.Listener
		switch s.Sink {
		case "", "log":
			l = logSink
		case "nats":
			if d.natsSink == nil {
				nc, err := sink.Connect(cfg.NATSURL, "upbridge")
				if err != nil {
					return fmt.Errorf("connect nats: %w", err)
				}
				d.sinkClosers = append(d.sinkClosers, nc.Close)
				d.natsSink = sink.NewNATS(nc, cfg.NATSSubjectPrefix, d.app.Log)
			}
			l = d.natsSink
		default:
			return fmt.Errorf("subscription %q: unknown sink %q", s.Topic, s.Sink)
		}
		d.subs = append(d.subs, subscription{topic: topic, listener: l, sink: s.Sink})
	}
	return nil
}

func (d *Daemon) registerAll(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, d.app.Cfg.CallTimeout)
	err := d.br.Connect(cctx)
	cancel()
	if err != nil {
		d.log.Warn("host client registration failed", logging.Err(err))
	} else {
		d.log.Info("connected to host", slog.String("token", d.br.Token()))
	}
	for _, s := range d.subs {
		cctx, cancel := context.WithTimeout(ctx, d.app.Cfg.CallTimeout)
		err := d.br.RegisterListener(cctx, s.topic, s.listener)
		cancel()
		if err != nil {
			d.log.Warn("subscription not registered", logging.Topic(s.topic), logging.Err(err))
			continue
		}
		d.log.Info("subscribed", logging.Topic(s.topic), slog.String("sink", s.sink))
	}
}

// Bridge returns the running bridge, or nil before Start.
func (d *Daemon) Bridge() *bridge.Bridge { return d.br }

// ListenerPath is the socket the host delivers to.
func (d *Daemon) ListenerPath() string { return d.listenerPath }

// HTTPAddr is the bound status server address.
func (d *Daemon) HTTPAddr() string {
	if d.httpLn == nil {
		return ""
	}
	return d.httpLn.Addr().String()
}

// Stop unregisters the subscriptions, stops serving and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.shutdown()
	d.running.Store(false)
	d.log.Info("upbridge daemon stopped")
}

func (d *Daemon) shutdown() {
	if d.br != nil {
		for _, s := range d.subs {
			ctx, cancel := context.WithTimeout(context.Background(), d.app.Cfg.CallTimeout)
			if err := d.br.UnregisterListener(ctx, s.topic, s.listener); err != nil {
				d.log.Debug("unsubscribe failed", logging.Topic(s.topic), logging.Err(err))
			}
			cancel()
		}
	}
	if d.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.httpSrv.Shutdown(ctx)
		cancel()
	} else if d.httpLn != nil {
		_ = d.httpLn.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	// Closing the app closes the bridge, which runs queued deliveries.
	if err := d.app.Close(); err != nil {
		d.log.Warn("close app", logging.Err(err))
	}
	for _, c := range d.sinkClosers {
		c()
	}
	d.sinkClosers = nil
	if err := d.lock.Unlock(); err != nil {
		d.log.Warn("failed to release daemon lock", logging.Err(err))
	}
}

// Run starts the daemon and blocks until ctx is done.
func Run(ctx context.Context, app *wire.App) error {
	d, err := New(app)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// listening hands an already bound listener to a transport server.
type listening struct{ l net.Listener }

func (l listening) Listen(context.Context) (net.Listener, error) { return l.l, nil }
