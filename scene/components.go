package scene

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/kineticworks/simsync/physics"
)

// BodyKind distinguishes single rigid bodies from articulated multibodies.
// Multibodies are recognized but not simulated; the pipeline reports them
// as errors and skips them.
type BodyKind int

const (
	// KindRigid is a single rigid body.
	KindRigid BodyKind = iota
	// KindMultibody is an articulated body. Unsupported.
	KindMultibody
)

func (k BodyKind) String() string {
	if k == KindRigid {
		return "rigid"
	}
	return "multibody"
}

// Transform is an entity's local pose plus non-uniform scale. The scale is
// never sent to the simulation; outbound synchronization preserves it when
// rebuilding the world transform.
type Transform struct {
	Pose  physics.Pose
	Scale mgl64.Vec3
}

// NewTransform returns an identity transform with unit scale.
func NewTransform() Transform {
	return Transform{
		Pose:  physics.IdentityPose(),
		Scale: mgl64.Vec3{1, 1, 1},
	}
}

// WorldTransform is an entity's world-space transform as a homogeneous
// matrix. Inbound synchronization derives the simulation pose from it, which
// fails if the matrix is not a scaled isometry.
type WorldTransform struct {
	Mat mgl64.Mat4
}

// WorldTransformFromPose composes a world transform from a rigid pose and a
// scale.
func WorldTransformFromPose(pose physics.Pose, scale mgl64.Vec3) WorldTransform {
	return WorldTransform{
		Mat: pose.Mat4().Mul4(mgl64.Scale3D(scale.X(), scale.Y(), scale.Z())),
	}
}

// Pose extracts the rigid isometry from the world transform, dividing out
// any uniform scale. See PoseFromMat4 for failure conditions.
func (w WorldTransform) Pose() (physics.Pose, error) {
	return PoseFromMat4(w.Mat)
}

// RigidBody holds the simulation parameters an entity contributes to its
// body. The simulation owns the body itself; Handle is a weak
// back-reference written by the pipeline, not by users.
type RigidBody struct {
	Kind BodyKind

	Mass         float64
	AngularMass  float64
	CenterOfMass mgl64.Vec3

	Velocity physics.Velocity
	// ExternalForce accumulates an impulse applied on the next
	// synchronization and then zeroed.
	ExternalForce physics.Force
	Status        physics.BodyStatus

	// Handle back-references the simulation body while one exists.
	Handle physics.Handle
}

// Inertia returns the body's mass properties in simulation form.
func (b RigidBody) Inertia() physics.Inertia {
	return physics.Inertia{Linear: b.Mass, Angular: b.AngularMass}
}
