package safeconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64ToInt(t *testing.T) {
	t.Parallel()

	got, err := Uint64ToInt(42)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = Uint64ToInt(uint64(MaxInt))
	require.NoError(t, err)
	assert.Equal(t, MaxInt, got)

	_, err = Uint64ToInt(math.MaxUint64)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestClampToUint64(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0), ClampToUint64(-5))
	assert.Equal(t, uint64(7), ClampToUint64(7))
}

func TestClampToInt64(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(9), ClampToInt64(9))
	assert.Equal(t, int64(math.MaxInt64), ClampToInt64(math.MaxUint64))
}
