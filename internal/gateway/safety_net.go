package gateway

import (
	"context"
	"fmt"
	"reflect"
)

// pendingValue is implemented by any placeholder type an adapter might
// mistakenly leave unresolved in its returned payload (a future, promise, or
// similar handle). Adapters are expected to await these themselves; this
// check exists only as a defensive net: a correctly written adapter should
// never trigger it, but an adapter's mistake must never corrupt engine
// state silently.
type pendingValue interface {
	Pending() bool
}

// detectUnresolvedPlaceholder walks payload looking for a value that
// implements pendingValue and still reports itself pending, or for a raw
// channel or context.Context, at the top level or nested up to four levels
// deep in maps, slices, pointers and exported struct fields. A correctly
// written adapter should never trigger this; it exists as a safety net, not
// a recovery path.
func detectUnresolvedPlaceholder(payload any) error {
	return walkForPlaceholder(reflect.ValueOf(payload), 4)
}

func walkForPlaceholder(v reflect.Value, depth int) error {
	if depth < 0 || !v.IsValid() {
		return nil
	}

	if v.CanInterface() {
		if pv, ok := v.Interface().(pendingValue); ok && pv.Pending() {
			return fmt.Errorf("%w: found pending placeholder of type %s", ErrUnresolvedPlaceholder, v.Type())
		}
		if _, ok := v.Interface().(context.Context); ok {
			return fmt.Errorf("%w: found bare context.Context in returned payload", ErrUnresolvedPlaceholder)
		}
	}

	switch v.Kind() {
	case reflect.Chan:
		return fmt.Errorf("%w: found unresolved channel in returned payload", ErrUnresolvedPlaceholder)
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return walkForPlaceholder(v.Elem(), depth-1)
	case reflect.Map:
		for _, key := range v.MapKeys() {
			if err := walkForPlaceholder(v.MapIndex(key), depth-1); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walkForPlaceholder(v.Index(i), depth-1); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanInterface() {
				continue
			}
			if err := walkForPlaceholder(v.Field(i), depth-1); err != nil {
				return err
			}
		}
	}
	return nil
}
