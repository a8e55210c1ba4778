// Package binder defines the transaction primitive every IPC call is built
// on: an interface descriptor, a transaction code, a parcel of arguments and
// a parcel of results.
package binder

import (
	"context"
	"log/slog"

	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/parcel"
)

// TransactionCode selects the method a transaction invokes.
type TransactionCode uint32

const (
	// FirstCallTransaction is the code of the first declared method.
	FirstCallTransaction TransactionCode = 0x00000001
	// LastCallTransaction bounds user-defined codes.
	LastCallTransaction TransactionCode = 0x00ffffff
	// PingTransaction checks that the remote object is alive.
	PingTransaction TransactionCode = '_'<<24 | 'P'<<16 | 'N'<<8 | 'G'
)

// Flags modify how a transaction is delivered.
type Flags uint32

const (
	// FlagOneway submits the transaction without waiting for a reply.
	FlagOneway Flags = 0x01
	// FlagPrivateLocal marks a transaction as local-only.
	FlagPrivateLocal Flags = 0x80
)

func (f Flags) Oneway() bool { return f&FlagOneway != 0 }

// IBinder is a remote-callable object. For oneway transactions the returned
// parcel is nil and only local marshaling or transport errors are reported.
type IBinder interface {
	Transact(ctx context.Context, code TransactionCode, data *parcel.Parcel, flags Flags) (*parcel.Parcel, error)
}

// TransactFunc handles one incoming transaction, writing results into reply.
// Returning UnknownTransaction tells the caller the method does not exist.
type TransactFunc func(ctx context.Context, code TransactionCode, data, reply *parcel.Parcel, flags Flags) error

// Binder is an in-process object that serves transactions.
type Binder struct {
	descriptor string
	onTransact TransactFunc
	log        *slog.Logger
}

// New returns a local binder object for descriptor.
func New(descriptor string, fn TransactFunc, log *slog.Logger) *Binder {
	return &Binder{descriptor: descriptor, onTransact: fn, log: logging.OrDiscard(log)}
}

// Descriptor returns the interface descriptor the object implements.
func (b *Binder) Descriptor() string { return b.descriptor }

// Transact runs the handler on the caller's goroutine. Oneway errors are
// logged and dropped, matching what a remote caller would observe, except
// UnknownTransaction which a local caller can always see.
func (b *Binder) Transact(ctx context.Context, code TransactionCode, data *parcel.Parcel, flags Flags) (*parcel.Parcel, error) {
	if code == PingTransaction {
		if flags.Oneway() {
			return nil, nil
		}
		return parcel.New(), nil
	}
	in := parcel.FromBytes(data.Bytes())
	reply := parcel.New()
	err := b.onTransact(ctx, code, in, reply, flags)
	if flags.Oneway() {
		if StatusFromError(err) == UnknownTransaction {
			return nil, UnknownTransaction
		}
		if err != nil {
			b.log.Warn("oneway transaction failed",
				slog.String("descriptor", b.descriptor),
				slog.Uint64("code", uint64(code)),
				logging.Err(err))
		}
		return nil, nil
	}
	if err != nil {
		return nil, StatusFromError(err)
	}
	return parcel.FromBytes(reply.Bytes()), nil
}

// Ping checks that b answers transactions.
func Ping(ctx context.Context, b IBinder) error {
	_, err := b.Transact(ctx, PingTransaction, parcel.New(), 0)
	return err
}
