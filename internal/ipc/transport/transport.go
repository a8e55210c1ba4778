// Package transport carries binder transactions over byte streams. Each
// transaction is one request frame and, unless oneway, one reply frame.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/mithrel/upbridge/internal/binder"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/parcel"
)

// Server accepts connections and hands every transaction to a target object.
type Server interface {
	// Serve blocks, handling transactions until ctx is done or an error occurs.
	Serve(ctx context.Context, target binder.IBinder) error
}

// Listener abstracts how a server obtains a net.Listener (unix, tcp, etc.).
// This allows reusing the same Server implementation with different endpoints.
type Listener interface {
	Listen(ctx context.Context) (net.Listener, error)
}

// ServeStream answers transactions arriving on rw until the peer closes it.
// Target errors travel back as reply statuses; only stream errors end the loop.
func ServeStream(ctx context.Context, rw io.ReadWriter, target binder.IBinder, log *slog.Logger) error {
	log = logging.OrDiscard(log)
	br := bufio.NewReader(rw)
	for {
		req, err := readRequest(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		out, err := target.Transact(ctx, req.Code, parcel.FromBytes(req.Data), req.Flags)
		if req.Flags.Oneway() {
			if err != nil {
				log.Debug("oneway transaction failed", slog.Uint64("code", uint64(req.Code)), logging.Err(err))
			}
			continue
		}
		rep := reply{Status: binder.StatusFromError(err)}
		if err == nil && out != nil {
			rep.Data = out.Bytes()
		}
		if err := writeReply(rw, rep); err != nil {
			return err
		}
	}
}

// RoundTrip writes one transaction to rw and, unless oneway, reads its reply.
// A non-OK reply status is returned as a binder.StatusCode.
func RoundTrip(rw io.ReadWriter, code binder.TransactionCode, data *parcel.Parcel, flags binder.Flags) (*parcel.Parcel, error) {
	var payload []byte
	if data != nil {
		payload = data.Bytes()
	}
	if err := writeRequest(rw, request{Code: code, Flags: flags, Data: payload}); err != nil {
		return nil, errors.Join(binder.DeadObject, err)
	}
	if flags.Oneway() {
		return nil, nil
	}
	rep, err := readReply(bufio.NewReader(rw))
	if err != nil {
		return nil, errors.Join(binder.DeadObject, err)
	}
	if rep.Status != binder.OK {
		return nil, rep.Status
	}
	return parcel.FromBytes(rep.Data), nil
}
