package common

import (
	"math"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   [3]float32
	Distance float32
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// AABB is an axis-aligned bounding box given by its center and half extents.
type AABB struct {
	Center  [3]float32
	Extents [3]float32
}

// ExtractFrustumFromMatrix extracts frustum planes from a view-projection matrix.
// The matrix should be the combined View * Projection matrix.
// Uses the Gribb/Hartmann method for plane extraction. The near plane uses row2 alone because
// WebGPU clip space keeps Z in [0, w].
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: 16 float32 values representing the view-projection matrix (column-major)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustumFromMatrix(viewProj []float32) Frustum {
	var f Frustum

	// For column-major matrix M, element M[row][col] is at index col*4 + row

	// Left plane: row3 + row0
	f.Planes[FrustumLeft].Normal[0] = viewProj[3] + viewProj[0]
	f.Planes[FrustumLeft].Normal[1] = viewProj[7] + viewProj[4]
	f.Planes[FrustumLeft].Normal[2] = viewProj[11] + viewProj[8]
	f.Planes[FrustumLeft].Distance = viewProj[15] + viewProj[12]

	// Right plane: row3 - row0
	f.Planes[FrustumRight].Normal[0] = viewProj[3] - viewProj[0]
	f.Planes[FrustumRight].Normal[1] = viewProj[7] - viewProj[4]
	f.Planes[FrustumRight].Normal[2] = viewProj[11] - viewProj[8]
	f.Planes[FrustumRight].Distance = viewProj[15] - viewProj[12]

	// Bottom plane: row3 + row1
	f.Planes[FrustumBottom].Normal[0] = viewProj[3] + viewProj[1]
	f.Planes[FrustumBottom].Normal[1] = viewProj[7] + viewProj[5]
	f.Planes[FrustumBottom].Normal[2] = viewProj[11] + viewProj[9]
	f.Planes[FrustumBottom].Distance = viewProj[15] + viewProj[13]

	// Top plane: row3 - row1
	f.Planes[FrustumTop].Normal[0] = viewProj[3] - viewProj[1]
	f.Planes[FrustumTop].Normal[1] = viewProj[7] - viewProj[5]
	f.Planes[FrustumTop].Normal[2] = viewProj[11] - viewProj[9]
	f.Planes[FrustumTop].Distance = viewProj[15] - viewProj[13]

	// Near plane: row2
	f.Planes[FrustumNear].Normal[0] = viewProj[2]
	f.Planes[FrustumNear].Normal[1] = viewProj[6]
	f.Planes[FrustumNear].Normal[2] = viewProj[10]
	f.Planes[FrustumNear].Distance = viewProj[14]

	// Far plane: row3 - row2
	f.Planes[FrustumFar].Normal[0] = viewProj[3] - viewProj[2]
	f.Planes[FrustumFar].Normal[1] = viewProj[7] - viewProj[6]
	f.Planes[FrustumFar].Normal[2] = viewProj[11] - viewProj[10]
	f.Planes[FrustumFar].Distance = viewProj[15] - viewProj[14]

	for i := range f.Planes {
		f.normalizePlane(i)
	}

	return f
}

// normalizePlane normalizes a frustum plane so that the normal has unit length.
func (f *Frustum) normalizePlane(index int) {
	p := &f.Planes[index]
	length := float32(math.Sqrt(float64(
		p.Normal[0]*p.Normal[0] +
			p.Normal[1]*p.Normal[1] +
			p.Normal[2]*p.Normal[2],
	)))

	if length > 0 {
		invLen := 1.0 / length
		p.Normal[0] *= invLen
		p.Normal[1] *= invLen
		p.Normal[2] *= invLen
		p.Distance *= invLen
	}
}

// IntersectsAABB reports whether the box is at least partially inside the frustum.
// For each plane the box's projected radius onto the plane normal is compared against
// the signed distance of its center.
//
// Parameters:
//   - box: the world-space bounding box
//
// Returns:
//   - bool: false only when the box lies entirely outside one plane
func (f Frustum) IntersectsAABB(box AABB) bool {
	for i := range f.Planes {
		p := &f.Planes[i]
		dist := p.Normal[0]*box.Center[0] + p.Normal[1]*box.Center[1] + p.Normal[2]*box.Center[2] + p.Distance
		radius := absF32(p.Normal[0])*box.Extents[0] + absF32(p.Normal[1])*box.Extents[1] + absF32(p.Normal[2])*box.Extents[2]
		if dist+radius < 0 {
			return false
		}
	}
	return true
}

// TransformAABB returns the world-space box enclosing the local box transformed by m (column-major).
// Uses Arvo's method: the new extents are the absolute rotation/scale block applied to the old extents.
//
// Parameters:
//   - local: the box in object space
//   - m: the object-to-world matrix
//
// Returns:
//   - AABB: the enclosing world-space box
func TransformAABB(local AABB, m [16]float32) AABB {
	var out AABB
	for row := range 3 {
		out.Center[row] = m[12+row] +
			m[row]*local.Center[0] + m[4+row]*local.Center[1] + m[8+row]*local.Center[2]
		out.Extents[row] = absF32(m[row])*local.Extents[0] +
			absF32(m[4+row])*local.Extents[1] +
			absF32(m[8+row])*local.Extents[2]
	}
	return out
}

// Distance returns the euclidean distance between two points.
func Distance(a, b [3]float32) float32 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
