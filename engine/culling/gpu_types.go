package culling

import (
	"encoding/binary"

	"github.com/Carmen-Shannon/oxy-instancing/engine/batch"
)

// DrawCommandSize is the GPU size of one DrawCommand in bytes.
const DrawCommandSize = 32

// DrawFlags qualifies a DrawCommand.
type DrawFlags uint32

const (
	// DrawFlipWinding marks instances whose transform mirrors geometry (negative determinant).
	DrawFlipWinding DrawFlags = 1 << iota
	// DrawDeformed marks instances that read deformed vertices from the Deformation range.
	DrawDeformed
	// DrawShadowCaster marks batches rendered into shadow views.
	DrawShadowCaster
)

func (f DrawFlags) Has(flag DrawFlags) bool { return f&flag != 0 }

// DrawCommand is one instanced draw for the draw-submission collaborator. Instances references the
// visible batch-relative instance indices inside a pass arena; Deformation, when set, references the
// arena words pre-allocated for the deformation output of those instances.
//
// GPU layout (32 bytes, little-endian):
//
//	int32  batch
//	uint32 mesh
//	uint32 material
//	uint32 flags
//	uint32 arena
//	uint32 instanceOffset
//	uint32 instanceCount
//	uint32 deformationOffset
type DrawCommand struct {
	Batch       batch.ID
	Mesh        uint32
	Material    uint32
	Flags       DrawFlags
	Instances   Ref
	Deformation Ref
	Count       uint32
}

// Size returns the GPU size of the command.
func (c DrawCommand) Size() int { return DrawCommandSize }

// Marshal encodes the command in its GPU layout.
func (c DrawCommand) Marshal() []byte {
	buf := make([]byte, DrawCommandSize)
	c.MarshalTo(buf)
	return buf
}

// MarshalTo encodes the command into dst, which must hold DrawCommandSize bytes.
func (c DrawCommand) MarshalTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(c.Batch))
	binary.LittleEndian.PutUint32(dst[4:], c.Mesh)
	binary.LittleEndian.PutUint32(dst[8:], c.Material)
	binary.LittleEndian.PutUint32(dst[12:], uint32(c.Flags))
	binary.LittleEndian.PutUint32(dst[16:], uint32(c.Instances.Arena))
	binary.LittleEndian.PutUint32(dst[20:], c.Instances.Offset)
	binary.LittleEndian.PutUint32(dst[24:], c.Count)
	binary.LittleEndian.PutUint32(dst[28:], c.Deformation.Offset)
}

// MarshalDrawCommands encodes commands back to back.
func MarshalDrawCommands(cmds []DrawCommand) []byte {
	buf := make([]byte, len(cmds)*DrawCommandSize)
	for i, c := range cmds {
		c.MarshalTo(buf[i*DrawCommandSize:])
	}
	return buf
}
