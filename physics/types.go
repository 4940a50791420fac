// Package physics defines the contract of the rigid-body simulation service
// the synchronization pipeline drives. The engine itself (collision
// detection, constraint solving, force integration) lives behind the World
// interface; this package only fixes the types crossing that boundary.
package physics

import "github.com/go-gl/mathgl/mgl64"

// Handle is an opaque, stable identifier for a body or collider owned by the
// simulation. The zero value is never a valid handle.
type Handle uint64

// InvalidHandle is the zero handle.
const InvalidHandle Handle = 0

// BodyStatus describes how the simulation treats a body.
type BodyStatus int

const (
	// StatusDynamic bodies are fully simulated.
	StatusDynamic BodyStatus = iota
	// StatusStatic bodies never move.
	StatusStatic
	// StatusKinematic bodies are moved externally and only push others.
	StatusKinematic
)

func (s BodyStatus) String() string {
	switch s {
	case StatusDynamic:
		return "dynamic"
	case StatusStatic:
		return "static"
	case StatusKinematic:
		return "kinematic"
	default:
		return "unknown"
	}
}

// Pose is a rigid isometry: position plus orientation, no scale.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// IdentityPose returns the pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: mgl64.QuatIdent()}
}

// Mat4 returns the homogeneous transform of the pose.
func (p Pose) Mat4() mgl64.Mat4 {
	t := mgl64.Translate3D(p.Position.X(), p.Position.Y(), p.Position.Z())
	return t.Mul4(p.Orientation.Mat4())
}

// Velocity bundles the linear and angular velocity of a body.
type Velocity struct {
	Linear  mgl64.Vec3
	Angular mgl64.Vec3
}

// Inertia bundles a body's mass and angular mass.
type Inertia struct {
	Linear  float64
	Angular float64
}

// Force is an external force and torque accumulated for one step.
type Force struct {
	Linear  mgl64.Vec3
	Angular mgl64.Vec3
}

// IsZero reports whether the force has no effect.
func (f Force) IsZero() bool {
	return f.Linear == (mgl64.Vec3{}) && f.Angular == (mgl64.Vec3{})
}

// BodyState is a read snapshot of a simulation body.
type BodyState struct {
	Pose         Pose
	Velocity     Velocity
	Inertia      Inertia
	CenterOfMass mgl64.Vec3
	Status       BodyStatus
	// Active is false while the body sleeps.
	Active bool
}

// IsStatic reports whether the body never moves.
func (b BodyState) IsStatic() bool { return b.Status == StatusStatic }

// ContactKind distinguishes contact event phases.
type ContactKind int

const (
	// ContactStarted marks two colliders coming into contact.
	ContactStarted ContactKind = iota
	// ContactStopped marks two colliders separating.
	ContactStopped
)

func (k ContactKind) String() string {
	if k == ContactStarted {
		return "started"
	}
	return "stopped"
}

// ContactEvent is a raw narrow-phase contact event between two colliders.
type ContactEvent struct {
	Kind      ContactKind
	ColliderA Handle
	ColliderB Handle
}

// Proximity describes the spatial relation of two proximity-tracked
// colliders.
type Proximity int

const (
	ProximityIntersecting Proximity = iota
	ProximityWithinMargin
	ProximityDisjoint
)

// ProximityEvent is a raw proximity transition between two colliders.
type ProximityEvent struct {
	ColliderA Handle
	ColliderB Handle
	Prev      Proximity
	Current   Proximity
}
