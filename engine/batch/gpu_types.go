package batch

import (
	"encoding/binary"

	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
)

// ChunkPropertySize is the size in bytes of one GPU metadata record.
const ChunkPropertySize = 16

// ChunkProperty is the GPU metadata record describing where one group's values of one property begin.
// Matches the WGSL struct:
//
//	struct ChunkProperty {
//	    type_index: i32,
//	    gpu_data_begin: u32,
//	    size_cpu: u32,
//	    size_gpu: u32,
//	}
type ChunkProperty struct {
	TypeIndex    int32
	GPUDataBegin uint32
	SizeCPU      uint32
	SizeGPU      uint32
}

// UnusedChunkProperty is the sentinel written into records that describe nothing.
var UnusedChunkProperty = ChunkProperty{TypeIndex: int32(property.InvalidTypeIndex)}

// Unused reports whether the record is the sentinel.
func (c ChunkProperty) Unused() bool { return c.TypeIndex == int32(property.InvalidTypeIndex) }

// Size returns the byte size of the GPU representation.
func (c ChunkProperty) Size() int { return ChunkPropertySize }

// Marshal serializes the record into a byte slice for GPU upload.
func (c ChunkProperty) Marshal() []byte {
	buf := make([]byte, ChunkPropertySize)
	c.MarshalTo(buf)
	return buf
}

// MarshalTo writes the record into dst, which must hold at least ChunkPropertySize bytes.
func (c ChunkProperty) MarshalTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(c.TypeIndex))
	binary.LittleEndian.PutUint32(dst[4:8], c.GPUDataBegin)
	binary.LittleEndian.PutUint32(dst[8:12], c.SizeCPU)
	binary.LittleEndian.PutUint32(dst[12:16], c.SizeGPU)
}

// MarshalChunkProperties serializes consecutive records for one metadata blit.
func MarshalChunkProperties(records []ChunkProperty) []byte {
	buf := make([]byte, len(records)*ChunkPropertySize)
	for i, rec := range records {
		rec.MarshalTo(buf[i*ChunkPropertySize:])
	}
	return buf
}
