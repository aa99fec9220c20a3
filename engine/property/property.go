// package property holds the catalog of per-instance property types: the shader-visible name, CPU size,
// GPU size and kind of every overridable property. The catalog is built once at startup, frozen, and
// passed explicitly to every consumer.
package property

import "fmt"

// TypeIndex identifies a property's logical type. It is the value stored in GPU metadata records.
type TypeIndex int32

// InvalidTypeIndex marks an unused metadata record.
const InvalidTypeIndex TypeIndex = -1

// NameID identifies a shader-visible property name. Several types may share one NameID.
type NameID uint32

// Kind classifies how a property's data is produced and uploaded.
type Kind uint8

const (
	// KindValue is a plain per-instance value copied verbatim to the GPU.
	KindValue Kind = iota
	// KindObjectToWorld is the current object-to-world transform.
	KindObjectToWorld
	// KindPrevObjectToWorld is the previous frame's object-to-world transform.
	KindPrevObjectToWorld
	// KindWorldToObject is the inverse transform; computed by the shader and never uploaded.
	KindWorldToObject
	// KindPrevWorldToObject is the previous frame's inverse transform; computed by the shader and never uploaded.
	KindPrevWorldToObject
)

// Derived reports whether the kind is computed on the GPU rather than uploaded.
func (k Kind) Derived() bool {
	return k == KindWorldToObject || k == KindPrevWorldToObject
}

// Transform reports whether the kind is an uploaded transform that goes through the TransformPacker.
func (k Kind) Transform() bool {
	return k == KindObjectToWorld || k == KindPrevObjectToWorld
}

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindObjectToWorld:
		return "object-to-world"
	case KindPrevObjectToWorld:
		return "prev-object-to-world"
	case KindWorldToObject:
		return "world-to-object"
	case KindPrevWorldToObject:
		return "prev-world-to-object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MatrixSizeCPU is the CPU size of every transform kind: a column-major float4x4.
const MatrixSizeCPU = 64

// Descriptor is an immutable catalog entry.
type Descriptor struct {
	TypeIndex    TypeIndex
	NameID       NameID
	Name         string
	Index        int // registration order, used to order GPU streams inside a batch
	SizeBytesCPU uint32
	SizeBytesGPU uint32
	Kind         Kind
	Default      []byte // optional default value, SizeBytesCPU long
}

// Uploadable reports whether the property is written to the GPU instance buffer.
func (d Descriptor) Uploadable() bool { return !d.Kind.Derived() }

// HasDefault reports whether the property carries a default value blit.
func (d Descriptor) HasDefault() bool { return len(d.Default) > 0 }

// RegisterOption customizes a single Register call.
type RegisterOption func(d *Descriptor)

// WithGPUSize sets the GPU size of the property when it differs from the CPU size.
//
// Parameters:
//   - size: the GPU size in bytes
//
// Returns:
//   - RegisterOption: option function to apply
func WithGPUSize(size uint32) RegisterOption {
	return func(d *Descriptor) {
		d.SizeBytesGPU = size
	}
}

// WithKind sets the property kind. Defaults to KindValue.
//
// Parameters:
//   - kind: the property kind
//
// Returns:
//   - RegisterOption: option function to apply
func WithKind(kind Kind) RegisterOption {
	return func(d *Descriptor) {
		d.Kind = kind
	}
}

// WithDefaultValue sets the value uploaded for instances that do not override the property.
// The value must be exactly the CPU size of the property.
//
// Parameters:
//   - value: the default value bytes (copied)
//
// Returns:
//   - RegisterOption: option function to apply
func WithDefaultValue(value []byte) RegisterOption {
	return func(d *Descriptor) {
		d.Default = append([]byte(nil), value...)
	}
}
