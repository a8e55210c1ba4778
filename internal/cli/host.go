package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mithrel/upbridge/internal/aidl"
	"github.com/mithrel/upbridge/internal/config"
	"github.com/mithrel/upbridge/internal/host/loopback"
	"github.com/mithrel/upbridge/internal/ipc/transport"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/quicnet"
	"github.com/mithrel/upbridge/internal/wire"
)

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run an in-memory host service",
		Long: `Run an in-memory host service on the host socket, and on QUIC when
--quic-addr is set. Deliveries go to the daemon's listener socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), getApp(cmd))
		},
	}
	cmd.Flags().Int("host-version", 0, "interface version to report (1 or 2)")
	cmd.Flags().String("quic-addr", "", "also serve over QUIC on this address")
	return cmd
}

func runHost(ctx context.Context, app *wire.App) error {
	cfg := app.Cfg
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenerSock, err := app.SocketPath(cfg.ListenerSocket, "listener")
	if err != nil {
		return err
	}
	hostSock, err := app.SocketPath(cfg.HostSocket, "host")
	if err != nil {
		return err
	}
	h := loopback.New(loopback.WithVersion(int32(cfg.HostVersion)), loopback.WithLogger(app.Log))
	h.SetPeer(aidl.NewListenerProxy(transport.NewUnixClient(listenerSock), nil))
	stub := aidl.NewHostBridgeStub(h, app.Log)

	errc := make(chan error, 2)
	running := 1
	go func() {
		errc <- transport.NewUnixServer(transport.UnixListener{Path: hostSock}, app.Log).Serve(ctx, stub)
	}()
	if cfg.QUICAddr != "" {
		tlsConf, challenge, err := quicnet.ServerTLS(ctx, tlsOptions(cfg))
		if err != nil {
			return err
		}
		if challenge != nil {
			serveChallenges(ctx, challenge, app.Log)
		}
		running++
		go func() { errc <- quicnet.Serve(ctx, cfg.QUICAddr, tlsConf, stub, app.Log) }()
	}
	app.Log.Info("host serving",
		slog.String("socket", hostSock),
		slog.String("quic", cfg.QUICAddr),
		slog.String("deliver_to", listenerSock),
		slog.Int("version", cfg.HostVersion))

	for ; running > 0; running-- {
		if err := <-errc; err != nil {
			return err
		}
	}
	return nil
}

func tlsOptions(cfg config.Config) quicnet.TLSOptions {
	return quicnet.TLSOptions{
		CertFile: cfg.TLSCertFile,
		KeyFile:  cfg.TLSKeyFile,
		Domain:   cfg.TLSDomain,
		Email:    cfg.TLSEmail,
	}
}

func serveChallenges(ctx context.Context, h http.Handler, log *slog.Logger) {
	srv := &http.Server{Addr: ":80", Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("acme challenge server stopped", logging.Err(err))
		}
	}()
}
