package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/parcel"
)

// UnixListener listens on a Unix domain socket path.
type UnixListener struct{ Path string }

func (u UnixListener) Listen(ctx context.Context) (net.Listener, error) {
	// Remove stale socket
	_ = os.Remove(u.Path)
	l, err := net.Listen("unix", u.Path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(u.Path, 0o600)
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	return l, nil
}

// UnixServer implements Server for Unix sockets.
type UnixServer struct {
	L   Listener
	Log *slog.Logger
}

func NewUnixServer(l Listener, log *slog.Logger) *UnixServer {
	return &UnixServer{L: l, Log: logging.OrDiscard(log)}
}

func (s *UnixServer) Serve(ctx context.Context, target binder.IBinder) error {
	l, err := s.L.Listen(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	log := logging.OrDiscard(s.Log)
	errc := make(chan error, 1)
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				errc <- err
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if err := ServeStream(ctx, conn, target, log); err != nil {
					log.Debug("connection closed", logging.Err(err))
				}
			}(c)
		}
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		// If context canceled shortly after, suppress spurious errors
		if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// UnixClient is a remote object reached over a Unix socket. Every
// transaction uses its own connection.
type UnixClient struct {
	Path    string
	Timeout time.Duration
}

func NewUnixClient(path string) *UnixClient { return &UnixClient{Path: path, Timeout: 30 * time.Second} }

func (c *UnixClient) Transact(ctx context.Context, code binder.TransactionCode, data *parcel.Parcel, flags binder.Flags) (*parcel.Parcel, error) {
	d := &net.Dialer{}
	conn, err := d.DialContext(ctx, "unix", c.Path)
	if err != nil {
		return nil, errors.Join(binder.DeadObject, err)
	}
	defer conn.Close()
	// Set deadline to respect context
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	return RoundTrip(conn, code, data, flags)
}

var _ binder.IBinder = (*UnixClient)(nil)
