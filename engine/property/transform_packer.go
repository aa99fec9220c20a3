package property

import (
	"encoding/binary"
	"math"
)

// TransformPacker converts CPU transforms (column-major float4x4, MatrixSizeCPU bytes) into the GPU
// representation. One packer is selected when the catalog is built and used for every transform kind.
type TransformPacker interface {
	// Name returns a short identifier for logs.
	Name() string

	// SizeGPU returns the number of bytes one packed transform occupies on the GPU.
	SizeGPU() uint32

	// Pack writes the GPU representation of src into dst.
	//
	// Parameters:
	//   - dst: destination, at least SizeGPU() bytes
	//   - src: a little-endian column-major float4x4, MatrixSizeCPU bytes
	Pack(dst, src []byte)
}

// Float4x4Packer uploads transforms unchanged as column-major float4x4.
type Float4x4Packer struct{}

// Float3x4Packer drops the constant bottom row and uploads three float4 rows (row-major 3x4).
type Float3x4Packer struct{}

var (
	_ TransformPacker = Float4x4Packer{}
	_ TransformPacker = Float3x4Packer{}
)

func (Float4x4Packer) Name() string    { return "float4x4" }
func (Float4x4Packer) SizeGPU() uint32 { return MatrixSizeCPU }
func (Float4x4Packer) Pack(dst, src []byte) {
	copy(dst[:MatrixSizeCPU], src[:MatrixSizeCPU])
}

func (Float3x4Packer) Name() string    { return "float3x4" }
func (Float3x4Packer) SizeGPU() uint32 { return 48 }
func (Float3x4Packer) Pack(dst, src []byte) {
	for row := range 3 {
		for col := range 4 {
			v := binary.LittleEndian.Uint32(src[(col*4+row)*4:])
			binary.LittleEndian.PutUint32(dst[(row*4+col)*4:], v)
		}
	}
}

// UnpackFloat3x4 expands a row-major 3x4 transform back into a column-major float4x4.
func UnpackFloat3x4(src []byte) [16]float32 {
	var m [16]float32
	for row := range 3 {
		for col := range 4 {
			m[col*4+row] = math.Float32frombits(binary.LittleEndian.Uint32(src[(row*4+col)*4:]))
		}
	}
	m[15] = 1
	return m
}
