package physics

import (
	"github.com/go-gl/mathgl/mgl64"
)

// FakeWorld is a self-contained World implementation with just enough
// dynamics for pipeline tests and demos: semi-implicit Euler integration of
// dynamic bodies, impulse-style forces consumed once per step, and
// externally queueable contact/proximity events. It performs no collision
// detection of its own.
type FakeWorld struct {
	timestep   float64
	nextHandle Handle

	bodies    map[Handle]*fakeBody
	colliders map[Handle]Handle // collider handle -> owning body

	contacts    []ContactEvent
	proximities []ProximityEvent

	steps int

	// OnStep, when set, runs at the start of every Step call. Tests use it
	// to advance fake clocks or inject events mid-frame.
	OnStep func()
}

type fakeBody struct {
	pose         Pose
	velocity     Velocity
	inertia      Inertia
	centerOfMass mgl64.Vec3
	force        Force
	status       BodyStatus
	active       bool
}

// NewFakeWorld returns an empty world with the given step size.
func NewFakeWorld(timestep float64) *FakeWorld {
	if timestep <= 0 {
		timestep = 1.0 / 120.0
	}
	return &FakeWorld{
		timestep:  timestep,
		bodies:    make(map[Handle]*fakeBody),
		colliders: make(map[Handle]Handle),
	}
}

func (w *FakeWorld) Step() {
	if w.OnStep != nil {
		w.OnStep()
	}
	w.steps++

	for _, b := range w.bodies {
		if b.status != StatusDynamic || !b.active {
			b.force = Force{}
			continue
		}
		dt := w.timestep
		if b.inertia.Linear > 0 {
			accel := b.force.Linear.Mul(1 / b.inertia.Linear)
			b.velocity.Linear = b.velocity.Linear.Add(accel.Mul(dt))
		}
		if b.inertia.Angular > 0 {
			angAccel := b.force.Angular.Mul(1 / b.inertia.Angular)
			b.velocity.Angular = b.velocity.Angular.Add(angAccel.Mul(dt))
		}
		b.force = Force{}

		b.pose.Position = b.pose.Position.Add(b.velocity.Linear.Mul(dt))
		if speed := b.velocity.Angular.Len(); speed > 0 {
			axis := b.velocity.Angular.Mul(1 / speed)
			rot := mgl64.QuatRotate(speed*dt, axis)
			b.pose.Orientation = rot.Mul(b.pose.Orientation).Normalize()
		}
	}
}

func (w *FakeWorld) SetTimestep(step float64) {
	if step > 0 {
		w.timestep = step
	}
}

func (w *FakeWorld) Timestep() float64 { return w.timestep }

// Steps returns how many times Step has been called.
func (w *FakeWorld) Steps() int { return w.steps }

func (w *FakeWorld) CreateBody(pose Pose, inertia Inertia, centerOfMass mgl64.Vec3) Handle {
	w.nextHandle++
	h := w.nextHandle
	w.bodies[h] = &fakeBody{
		pose:         pose,
		inertia:      inertia,
		centerOfMass: centerOfMass,
		status:       StatusDynamic,
		active:       true,
	}
	return h
}

func (w *FakeWorld) RemoveBodies(handles []Handle) {
	for _, h := range handles {
		delete(w.bodies, h)
		for collider, body := range w.colliders {
			if body == h {
				delete(w.colliders, collider)
			}
		}
	}
}

func (w *FakeWorld) Body(h Handle) (BodyState, bool) {
	b, ok := w.bodies[h]
	if !ok {
		return BodyState{}, false
	}
	return BodyState{
		Pose:         b.pose,
		Velocity:     b.velocity,
		Inertia:      b.inertia,
		CenterOfMass: b.centerOfMass,
		Status:       b.status,
		Active:       b.active,
	}, true
}

func (w *FakeWorld) SetBodyPose(h Handle, pose Pose) bool {
	b, ok := w.bodies[h]
	if !ok {
		return false
	}
	b.pose = pose
	return true
}

func (w *FakeWorld) SetBodyVelocity(h Handle, vel Velocity) bool {
	b, ok := w.bodies[h]
	if !ok {
		return false
	}
	b.velocity = vel
	return true
}

func (w *FakeWorld) ApplyForce(h Handle, f Force) bool {
	b, ok := w.bodies[h]
	if !ok {
		return false
	}
	b.force.Linear = b.force.Linear.Add(f.Linear)
	b.force.Angular = b.force.Angular.Add(f.Angular)
	return true
}

func (w *FakeWorld) SetBodyStatus(h Handle, status BodyStatus) bool {
	b, ok := w.bodies[h]
	if !ok {
		return false
	}
	b.status = status
	return true
}

// SetBodyActive flips the body's sleep state. Real engines decide this
// internally; tests drive it directly.
func (w *FakeWorld) SetBodyActive(h Handle, active bool) bool {
	b, ok := w.bodies[h]
	if !ok {
		return false
	}
	b.active = active
	return true
}

// CreateCollider attaches a collider to the given body and returns its
// handle. The fake performs no collision detection; colliders exist so that
// queued events can be resolved back to bodies.
func (w *FakeWorld) CreateCollider(body Handle) Handle {
	w.nextHandle++
	h := w.nextHandle
	w.colliders[h] = body
	return h
}

func (w *FakeWorld) ColliderBody(collider Handle) (Handle, bool) {
	body, ok := w.colliders[collider]
	return body, ok
}

// QueueContactEvent appends a contact event for the next drain.
func (w *FakeWorld) QueueContactEvent(ev ContactEvent) {
	w.contacts = append(w.contacts, ev)
}

// QueueProximityEvent appends a proximity event for the next drain.
func (w *FakeWorld) QueueProximityEvent(ev ProximityEvent) {
	w.proximities = append(w.proximities, ev)
}

func (w *FakeWorld) DrainContactEvents() []ContactEvent {
	out := w.contacts
	w.contacts = nil
	return out
}

func (w *FakeWorld) DrainProximityEvents() []ProximityEvent {
	out := w.proximities
	w.proximities = nil
	return out
}

var _ World = (*FakeWorld)(nil)
