package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/mithrel/upbridge/internal/binder"
)

// Call runs fn on env and maps its outcome: a pending exception is cleared
// and reported as ErrRemoteException, transport failures as
// ErrRemoteUnavailable. The environment is always left without a pending
// exception.
func Call[T any](env Env, op string, fn func(Env) (T, error)) (T, error) {
	v, err := fn(env)
	if exc := env.ExceptionOccurred(); exc != nil {
		env.ExceptionClear()
		var zero T
		return zero, fmt.Errorf("%s: %w: %w", op, ErrRemoteException, exc)
	}
	if err != nil {
		var zero T
		return zero, classify(op, err)
	}
	return v, nil
}

// Do is Call for operations without a result.
func Do(env Env, op string, fn func(Env) error) error {
	_, err := Call(env, op, func(e Env) (struct{}, error) { return struct{}{}, fn(e) })
	return err
}

// With attaches to vm, runs fn and detaches again.
func With[T any](ctx context.Context, vm VM, fn func(Env) (T, error)) (T, error) {
	env, err := vm.Attach(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer env.Detach()
	return fn(env)
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrRemoteUnavailable),
		errors.Is(err, ErrRemoteException),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	}
	switch binder.StatusFromError(err) {
	case binder.DeadObject, binder.FailedTransaction, binder.TimedOut:
		return fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
