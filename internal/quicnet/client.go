package quicnet

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/ipc/transport"
	"github.com/mithrel/upbridge/internal/parcel"
)

// Client is a remote object reached over QUIC. The connection is dialed
// lazily and redialed after it fails.
type Client struct {
	Addr     string
	Insecure bool
	TLS      *tls.Config // optional; overrides Insecure

	mu   sync.Mutex
	conn quic.Connection
}

func NewClient(addr string, insecure bool) *Client {
	return &Client{Addr: addr, Insecure: insecure}
}

func (c *Client) dial(ctx context.Context) (quic.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.Context().Err() == nil {
		return c.conn, nil
	}
	tlsConf := c.TLS
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: c.Insecure} // #nosec G402 -- opt-in via host.quic_insecure
	} else {
		tlsConf = tlsConf.Clone()
	}
	ensureALPN(tlsConf)
	conn, err := quic.DialAddr(ctx, c.Addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) Transact(ctx context.Context, code binder.TransactionCode, data *parcel.Parcel, flags binder.Flags) (*parcel.Parcel, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, errors.Join(binder.DeadObject, err)
	}
	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errors.Join(binder.DeadObject, err)
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	} else {
		_ = s.SetDeadline(time.Now().Add(30 * time.Second))
	}
	return transport.RoundTrip(s, code, data, flags)
}

// Close tears down the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.CloseWithError(0, "done")
	c.conn = nil
	return err
}

var _ binder.IBinder = (*Client)(nil)

// Ping dials addr, sends a ping transaction and returns the round trip time.
func Ping(ctx context.Context, addr string, insecure bool) (time.Duration, error) {
	c := NewClient(addr, insecure)
	defer c.Close()
	start := time.Now()
	if err := binder.Ping(ctx, c); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
