// Package mathx collects small generic numeric helpers shared by the
// control loop and expression arbitration, in place of re-deriving
// min/max/clamp logic at each call site.
package mathx

import "cmp"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Between reports lo <= v && v <= hi (order-insensitive).
func Between[T cmp.Ordered](v, lo, hi T) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// Abs for signed integers.
func Abs[T ~int | ~int8 | ~int16 | ~int32 | ~int64](x T) T {
	if x < 0 {
		return -x
	}
	return x
}
