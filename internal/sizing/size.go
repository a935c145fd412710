// Package sizing provides checked conversions into the
// int32 fields of the on-disk format.
package sizing

import "math"

// ToInt32 converts an int64 to int32, returning overflowErr if it doesn't fit
// or is negative.
func ToInt32(n int64, overflowErr error) (int32, error) {
	if n < 0 || n > math.MaxInt32 {
		return 0, overflowErr
	}
	return int32(n), nil
}
