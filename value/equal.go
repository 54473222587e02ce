package value

import "math"

// Equal reports whether a and b hold the same tag and content. Maps are
// compared by key set regardless of insertion order; sequences item by item.
// NaN floats compare equal to each other.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case KindString:
		return a.s == b.s
	case KindSequence:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if a.m.Len() != b.m.Len() {
			return false
		}
		equal := true
		a.m.Range(func(key string, av Value) bool {
			bv, ok := b.m.Get(key)
			if !ok || !Equal(av, bv) {
				equal = false
			}
			return equal
		})
		return equal
	default:
		return false
	}
}

// Equal reports whether v and other are equal as defined by the package
// level Equal.
func (v Value) Equal(other Value) bool { return Equal(v, other) }
