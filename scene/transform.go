package scene

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/kineticworks/simsync/physics"
)

// ErrNotAnIsometry indicates a world transform that cannot be reduced to a
// rigid pose: shear, non-uniform or degenerate scale, a reflection, or
// non-finite values.
var ErrNotAnIsometry = errors.New("world transform is not a scaled isometry")

const isometryEpsilon = 1e-6

// PoseFromMat4 extracts the rigid isometry from a homogeneous transform,
// dividing out a uniform positive scale. It fails with ErrNotAnIsometry when
// the matrix carries anything a simulation body cannot represent.
func PoseFromMat4(m mgl64.Mat4) (physics.Pose, error) {
	for i := range m {
		if math.IsNaN(m[i]) || math.IsInf(m[i], 0) {
			return physics.Pose{}, ErrNotAnIsometry
		}
	}
	if math.Abs(m.At(3, 0)) > isometryEpsilon ||
		math.Abs(m.At(3, 1)) > isometryEpsilon ||
		math.Abs(m.At(3, 2)) > isometryEpsilon ||
		math.Abs(m.At(3, 3)-1) > isometryEpsilon {
		return physics.Pose{}, ErrNotAnIsometry
	}

	c0 := mgl64.Vec3{m.At(0, 0), m.At(1, 0), m.At(2, 0)}
	c1 := mgl64.Vec3{m.At(0, 1), m.At(1, 1), m.At(2, 1)}
	c2 := mgl64.Vec3{m.At(0, 2), m.At(1, 2), m.At(2, 2)}

	s0, s1, s2 := c0.Len(), c1.Len(), c2.Len()
	if s0 < isometryEpsilon || s1 < isometryEpsilon || s2 < isometryEpsilon {
		return physics.Pose{}, ErrNotAnIsometry
	}
	// Only a uniform scale can be divided out without distorting the body.
	scale := (s0 + s1 + s2) / 3
	if math.Abs(s0-scale) > isometryEpsilon*scale ||
		math.Abs(s1-scale) > isometryEpsilon*scale ||
		math.Abs(s2-scale) > isometryEpsilon*scale {
		return physics.Pose{}, ErrNotAnIsometry
	}

	r0 := c0.Mul(1 / s0)
	r1 := c1.Mul(1 / s1)
	r2 := c2.Mul(1 / s2)

	if math.Abs(r0.Dot(r1)) > isometryEpsilon ||
		math.Abs(r0.Dot(r2)) > isometryEpsilon ||
		math.Abs(r1.Dot(r2)) > isometryEpsilon {
		return physics.Pose{}, ErrNotAnIsometry
	}
	// A reflection has determinant -1 and no rigid-body equivalent.
	if r0.Cross(r1).Dot(r2) < 0 {
		return physics.Pose{}, ErrNotAnIsometry
	}

	return physics.Pose{
		Position:    mgl64.Vec3{m.At(0, 3), m.At(1, 3), m.At(2, 3)},
		Orientation: quatFromBasis(r0, r1, r2).Normalize(),
	}, nil
}

// quatFromBasis converts an orthonormal basis (the columns of a rotation
// matrix) to a quaternion using Shepperd's method.
func quatFromBasis(r0, r1, r2 mgl64.Vec3) mgl64.Quat {
	m00, m01, m02 := r0[0], r1[0], r2[0]
	m10, m11, m12 := r0[1], r1[1], r2[1]
	m20, m21, m22 := r0[2], r1[2], r2[2]

	tr := m00 + m11 + m22
	var w, x, y, z float64
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		w = 0.25 * s
		x = (m21 - m12) / s
		y = (m02 - m20) / s
		z = (m10 - m01) / s
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		w = (m21 - m12) / s
		x = 0.25 * s
		y = (m01 + m10) / s
		z = (m02 + m20) / s
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		w = (m02 - m20) / s
		x = (m01 + m10) / s
		y = 0.25 * s
		z = (m12 + m21) / s
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		w = (m10 - m01) / s
		x = (m02 + m20) / s
		y = (m12 + m21) / s
		z = 0.25 * s
	}
	return mgl64.Quat{W: w, V: mgl64.Vec3{x, y, z}}
}
