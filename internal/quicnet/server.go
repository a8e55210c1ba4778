package quicnet

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"

	quic "github.com/quic-go/quic-go"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/ipc/transport"
	"github.com/mithrel/upbridge/internal/logging"
)

const alpn = "upbridge-quic/1"

// Serve exposes target over QUIC on addr. Every stream carries one
// transaction; connections may open as many streams as they like.
func Serve(ctx context.Context, addr string, tlsConf *tls.Config, target binder.IBinder, log *slog.Logger) error {
	if tlsConf == nil {
		return ErrMissingTLS
	}
	ensureALPN(tlsConf)
	log = logging.OrDiscard(log).With(logging.Component("quic"))

	l, err := quic.ListenAddr(addr, tlsConf, &quic.Config{})
	if err != nil {
		return err
	}
	log.Info("quic listening", slog.String("addr", l.Addr().String()))
	return ServeListener(ctx, l, target, log)
}

// ServeListener is Serve over an already bound listener. It closes l on return.
func ServeListener(ctx context.Context, l *quic.Listener, target binder.IBinder, log *slog.Logger) error {
	log = logging.OrDiscard(log)
	defer l.Close()

	errc := make(chan error, 1)
	go func() {
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				errc <- err
				return
			}
			go handleConn(ctx, conn, target, log)
		}
	}()

	select {
	case <-ctx.Done():
		_ = l.Close()
		return nil
	case err := <-errc:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func handleConn(ctx context.Context, conn quic.Connection, target binder.IBinder, log *slog.Logger) {
	for {
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func(s quic.Stream) {
			defer s.Close()
			if err := transport.ServeStream(ctx, s, target, log); err != nil {
				log.Debug("stream closed", logging.Err(err))
			}
		}(s)
	}
}

var ErrMissingTLS = errors.New("missing TLS configuration")
