package dv

import "reflect"

// Frozen wraps a compound fulfillment value whose maps and slices,
// including those held in interface values, have been recursively
// copied so they are not shared with the original. Maps and slices
// reached through pointers or struct fields are not copied. Go has no
// runtime immutability primitive,
// so this is a copy-on-resolve stand-in for the spec's "deeply freeze"
// rule rather than a true write-barrier.
type Frozen struct {
	value Result
}

// Unwrap returns the frozen snapshot. Maps and slices within it must not
// be mutated by convention; Frozen does not enforce this beyond copying
// away from the caller's original backing arrays/buckets.
func (f Frozen) Unwrap() Result { return f.value }

// deepFreeze recursively copies maps and slices reachable from v, through
// nested maps, slices and interface values, into a Frozen snapshot.
// Scalars, strings, structs passed by value, pointers, and other
// already-immutable-by-convention values pass through unwrapped and are
// not descended into.
func deepFreeze(v Result) Result {
	if v == nil {
		return v
	}
	frozen, changed := freezeValue(reflect.ValueOf(v))
	if !changed {
		return v
	}
	return Frozen{value: frozen.Interface()}
}

func freezeValue(v reflect.Value) (reflect.Value, bool) {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v, false
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			ev, _ := freezeValue(iter.Value())
			out.SetMapIndex(iter.Key(), ev)
		}
		return out, true
	case reflect.Slice:
		if v.IsNil() {
			return v, false
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			ev, _ := freezeValue(v.Index(i))
			out.Index(i).Set(ev)
		}
		return out, true
	case reflect.Interface:
		if v.IsNil() {
			return v, false
		}
		return freezeValue(v.Elem())
	case reflect.Ptr:
		return v, false
	default:
		return v, false
	}
}
