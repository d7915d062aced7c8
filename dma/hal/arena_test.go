package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softdma/pkg"
)

func TestArena_Reserve(t *testing.T) {
	a := NewArena(0x1000, 128)

	first, err := a.Reserve(5, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), first)

	second, err := a.Reserve(32, 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1020), second)

	// The gap left by alignment is reused.
	third, err := a.Reserve(8, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1008), third)

	_, err = a.Reserve(128, 4)
	assert.ErrorIs(t, err, pkg.ErrNoMemory)
	assert.Equal(t, 45, a.InUse())
}

func TestArena_InvalidArguments(t *testing.T) {
	a := NewArena(0, 64)
	tests := []struct {
		name        string
		size, align int
	}{
		{"zero size", 0, 4},
		{"negative size", -1, 4},
		{"zero alignment", 4, 0},
		{"non power of two", 4, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Reserve(tt.size, tt.align)
			assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
		})
	}
}

func TestArena_ReleaseAndContains(t *testing.T) {
	a := NewArena(0x2000, 256)
	x, err := a.Reserve(16, 4)
	require.NoError(t, err)
	y, err := a.Reserve(16, 4)
	require.NoError(t, err)

	assert.True(t, a.Contains(x, 16))
	assert.True(t, a.Contains(x+4, 8))
	assert.False(t, a.Contains(x+8, 16), "straddles two allocations")
	assert.False(t, a.Contains(y+16, 1))

	require.NoError(t, a.Release(x))
	assert.False(t, a.Contains(x, 1))
	assert.ErrorIs(t, a.Release(x), pkg.ErrBufferFreed)
	assert.ErrorIs(t, a.Release(y+4), pkg.ErrBufferFreed, "not the start of an allocation")

	z, err := a.Reserve(16, 4)
	require.NoError(t, err)
	assert.Equal(t, x, z)
}
