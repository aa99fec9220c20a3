package property

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	c := NewCatalog()

	color, err := c.Register(1, "baseColor", 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), color.SizeBytesGPU)
	assert.Equal(t, 0, color.Index)

	packed, err := c.Register(2, "baseColor", 4, WithGPUSize(16))
	require.NoError(t, err)
	assert.Equal(t, color.NameID, packed.NameID)
	assert.Equal(t, 1, packed.Index)

	got, ok := c.ByType(2)
	require.True(t, ok)
	assert.Equal(t, uint32(4), got.SizeBytesCPU)
	assert.Equal(t, uint32(16), got.SizeBytesGPU)

	byName := c.ByName("baseColor")
	require.Len(t, byName, 2)
	assert.Equal(t, TypeIndex(1), byName[0].TypeIndex)
	assert.Equal(t, TypeIndex(2), byName[1].TypeIndex)

	_, ok = c.ByType(99)
	assert.False(t, ok)
	assert.Nil(t, c.ByName("missing"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	c := NewCatalog()
	a, err := c.Register(3, "emission", 12)
	require.NoError(t, err)
	b, err := c.Register(3, "emission", 12)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, c.Len())
}

func TestRegisterConflictingName(t *testing.T) {
	if common.DebugAssertions {
		t.Skip("assertions panic in debug builds")
	}
	c := NewCatalog()
	_, err := c.Register(3, "emission", 12)
	require.NoError(t, err)
	_, err = c.Register(3, "glow", 12)
	assert.ErrorIs(t, err, ErrConflictingName)
	assert.Equal(t, 1, c.Len())
}

func TestRegisterValidation(t *testing.T) {
	c := NewCatalog()
	_, err := c.Register(1, "zero", 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = c.Register(2, "xf", 48, WithKind(KindObjectToWorld))
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = c.Register(3, "tint", 16, WithDefaultValue([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrInvalidDefault)

	_, err = c.Register(4, "shrunk", 16, WithGPUSize(8))
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.Zero(t, c.Len())
}

func TestFreeze(t *testing.T) {
	c := NewCatalog()
	_, err := c.Register(1, "a", 4)
	require.NoError(t, err)
	c.Freeze()
	assert.True(t, c.Frozen())
	_, err = c.Register(2, "b", 4)
	assert.ErrorIs(t, err, ErrCatalogFrozen)
}

func TestTransformKindsUsePackerSize(t *testing.T) {
	tests := []struct {
		name   string
		packer TransformPacker
		want   uint32
	}{
		{"default", nil, 48},
		{"float4x4", Float4x4Packer{}, 64},
		{"float3x4", Float3x4Packer{}, 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog(WithTransformPacker(tt.packer))
			d, err := c.Register(1, "objectToWorld", MatrixSizeCPU, WithKind(KindObjectToWorld))
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.SizeBytesGPU)
			assert.True(t, d.Uploadable())

			inv, err := c.Register(2, "worldToObject", MatrixSizeCPU, WithKind(KindWorldToObject))
			require.NoError(t, err)
			assert.Equal(t, tt.want, inv.SizeBytesGPU)
			assert.False(t, inv.Uploadable())
		})
	}
}

func TestFloat3x4PackRoundTrip(t *testing.T) {
	out := make([]float32, 16)
	common.BuildModelMatrix(out, 1, 2, 3, 0.1, 0.2, 0.3, 1, 2, 3)
	var m [16]float32
	copy(m[:], out)

	src := make([]byte, MatrixSizeCPU)
	common.PutMatrix(src, m)
	dst := make([]byte, 48)
	Float3x4Packer{}.Pack(dst, src)

	assert.Equal(t, m, UnpackFloat3x4(dst))
}
