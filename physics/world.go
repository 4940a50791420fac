package physics

import "github.com/go-gl/mathgl/mgl64"

// World is the simulation service consumed by the pipeline. Implementations
// own all body state; the pipeline only ever refers to bodies through
// handles. World is not safe for concurrent use: the frame pipeline owns it
// exclusively for the duration of a frame.
type World interface {
	// Step advances the simulation by the configured timestep.
	Step()
	// SetTimestep configures the simulated duration of one Step call.
	SetTimestep(step float64)
	// Timestep returns the currently configured step size in seconds.
	Timestep() float64

	// CreateBody inserts a new rigid body and returns its handle.
	CreateBody(pose Pose, inertia Inertia, centerOfMass mgl64.Vec3) Handle
	// RemoveBodies removes the given bodies and their colliders. Unknown
	// handles are ignored.
	RemoveBodies(handles []Handle)
	// Body returns a snapshot of the body's state.
	Body(h Handle) (BodyState, bool)

	// SetBodyPose overwrites the body's pose. It reports whether the handle
	// resolved.
	SetBodyPose(h Handle, pose Pose) bool
	// SetBodyVelocity overwrites the body's velocity.
	SetBodyVelocity(h Handle, vel Velocity) bool
	// ApplyForce adds an external force consumed by the next step.
	ApplyForce(h Handle, f Force) bool
	// SetBodyStatus changes how the simulation treats the body.
	SetBodyStatus(h Handle, status BodyStatus) bool

	// ColliderBody resolves a collider handle to its owning body.
	ColliderBody(collider Handle) (Handle, bool)
	// DrainContactEvents returns and clears the queued contact events.
	DrainContactEvents() []ContactEvent
	// DrainProximityEvents returns and clears the queued proximity events.
	DrainProximityEvents() []ProximityEvent
}
