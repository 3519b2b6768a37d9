// Package safeconv provides integer conversions that report overflow instead
// of wrapping.
package safeconv

import (
	"errors"
	"fmt"
	"math"
)

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("safeconv: value out of range")

// Uint64ToInt converts v to int, failing when it exceeds MaxInt.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(MaxInt) {
		return 0, fmt.Errorf("%w: %d > %d", ErrOverflow, v, MaxInt)
	}

	return int(v), nil
}

// ClampToUint64 converts a count or size to uint64, mapping negatives to 0.
func ClampToUint64(v int) uint64 {
	if v < 0 {
		return 0
	}

	return uint64(v)
}

// ClampToInt64 converts v to int64, saturating at math.MaxInt64.
func ClampToInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}
