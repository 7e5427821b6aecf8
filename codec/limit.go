package codec

import "fmt"

// Limit wraps another codec with a ceiling on decode input. Values coming
// back from a shared tier were written by some other process; a size check
// before the inner Decode keeps a poisoned or runaway entry from ballooning
// into a huge allocation. Encode passes through untouched.
//
// MaxDecode <= 0 disables the check.
type Limit[V any] struct {
	// Inner is the wrapped codec. Must be set.
	Inner interface {
		Encode(V) ([]byte, error)
		Decode([]byte) (V, error)
	}
	// MaxDecode caps the payload length, in bytes, accepted by Decode.
	// Oversized payloads error without reaching Inner.
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
