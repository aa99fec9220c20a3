package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMul4Identity(t *testing.T) {
	m := Translation(1, 2, 3)
	out := make([]float32, 16)
	Mul4(out, IdentityMatrix[:], m[:])
	assert.Equal(t, m[:], out)
}

func TestDeterminant3(t *testing.T) {
	out := make([]float32, 16)
	BuildModelMatrix(out, 0, 0, 0, 0, 0, 0, 2, 3, 4)
	assert.InDelta(t, 24, Determinant3(out), 1e-5)

	BuildModelMatrix(out, 5, 5, 5, 0.3, 1.2, -0.7, -1, 1, 1)
	assert.Less(t, Determinant3(out), float32(0))
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want uint64
	}{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{7, 0, 7},
		{7, 1, 7},
		{100, 64, 128},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignUp(tt.v, tt.align))
	}
	assert.True(t, IsPowerOfTwo(16))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(12))
}

func TestPutReadMatrix(t *testing.T) {
	buf := make([]byte, 64)
	m := Translation(-1.5, 0.25, 8)
	PutMatrix(buf, m)
	assert.Equal(t, m, ReadMatrix(buf))
}
