package registry

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/mithrel/upbridge/pkg/api"
)

// ErrListenerIdentity is returned for listeners that have no stable
// reference identity, such as plain struct values, funcs or pointers to
// zero-size types.
var ErrListenerIdentity = errors.New("registry: listener has no reference identity")

// identity is the address a listener is compared by. Two listeners are the
// same listener exactly when their dynamic types and addresses match.
type identity struct {
	typ  reflect.Type
	addr uintptr
}

func identityOf(l api.Listener) (identity, error) {
	if l == nil {
		return identity{}, fmt.Errorf("%w: nil listener", ErrListenerIdentity)
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return identity{}, fmt.Errorf("%w: nil %s", ErrListenerIdentity, v.Type())
		}
		// All zero-size allocations may share one address.
		if v.Kind() == reflect.Pointer && v.Type().Elem().Size() == 0 {
			return identity{}, fmt.Errorf("%w: %s points to a zero-size value", ErrListenerIdentity, v.Type())
		}
		return identity{typ: v.Type(), addr: v.Pointer()}, nil
	default:
		// Func values share code pointers across closures and cannot be
		// told apart; everything else is copied by value.
		return identity{}, fmt.Errorf("%w: %s of kind %s", ErrListenerIdentity, v.Type(), v.Kind())
	}
}

// typeName is the dynamic type folded into the handle.
func (id identity) typeName() string {
	if id.typ == nil {
		return ""
	}
	return id.typ.PkgPath() + "." + id.typ.String()
}
