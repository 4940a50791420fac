package pipeline

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kineticworks/simsync/internal/observability"
	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/scene"
)

func newInboundFixture() (*scene.Store, *physics.FakeWorld, *Bindings, *InboundSync) {
	store := scene.NewStore()
	world := physics.NewFakeWorld(0.01)
	bindings := NewBindings()
	sync := NewInboundSync(store, world, bindings, nil, nil)
	return store, world, bindings, sync
}

func spawnCrate(store *scene.Store, e scene.Entity) {
	local := scene.NewTransform()
	local.Pose.Position = mgl64.Vec3{1, 2, 3}
	store.Spawn(e, local, scene.RigidBody{
		Kind:        scene.KindRigid,
		Mass:        2,
		AngularMass: 1,
		Velocity:    physics.Velocity{Linear: mgl64.Vec3{0, -2, 0}},
		ExternalForce: physics.Force{
			Linear: mgl64.Vec3{4, 0, 0},
		},
		Status: physics.StatusDynamic,
	})
}

func TestInboundInsertCreatesBody(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()
	spawnCrate(store, 1)

	sync.Apply(context.Background())

	h, ok := bindings.HandleOf(1)
	if !ok {
		t.Fatal("no binding recorded for inserted entity")
	}
	state, live := world.Body(h)
	if !live {
		t.Fatal("no simulation body created")
	}
	if state.Pose.Position != (mgl64.Vec3{1, 2, 3}) {
		t.Fatalf("body position = %v, want [1 2 3]", state.Pose.Position)
	}
	if state.Velocity.Linear != (mgl64.Vec3{0, -2, 0}) {
		t.Fatalf("body velocity = %v, want [0 -2 0]", state.Velocity.Linear)
	}
	if state.Inertia != (physics.Inertia{Linear: 2, Angular: 1}) {
		t.Fatalf("body inertia = %v, want {2 1}", state.Inertia)
	}

	body, _ := store.Bodies().Get(1)
	if body.Handle != h {
		t.Fatalf("component back-reference = %v, want %v", body.Handle, h)
	}
	// The applied force is a one-step impulse; the component must not keep
	// re-applying it.
	if !body.ExternalForce.IsZero() {
		t.Fatalf("component external force = %+v, want zeroed", body.ExternalForce)
	}
}

func TestInboundInsertDominatesModify(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()
	spawnCrate(store, 1)

	// A second write in the same frame looks like a modification, but the
	// entity was inserted this frame; only one body may be created.
	body, _ := store.Bodies().Get(1)
	body.Velocity.Linear = mgl64.Vec3{9, 0, 0}
	store.Bodies().Set(1, body)

	sync.Apply(context.Background())

	if bindings.Len() != 1 {
		t.Fatalf("bindings = %d, want 1", bindings.Len())
	}
	h, _ := bindings.HandleOf(1)
	state, live := world.Body(h)
	if !live {
		t.Fatal("no simulation body created")
	}
	// The insert read the final component state.
	if state.Velocity.Linear != (mgl64.Vec3{9, 0, 0}) {
		t.Fatalf("body velocity = %v, want [9 0 0]", state.Velocity.Linear)
	}
}

func TestInboundInsertWaitsForCompletePair(t *testing.T) {
	store, _, bindings, sync := newInboundFixture()

	// World transform alone is not enough to create a body.
	store.WorldTransforms().Set(1, scene.WorldTransformFromPose(physics.IdentityPose(), mgl64.Vec3{1, 1, 1}))
	sync.Apply(context.Background())
	if bindings.Len() != 0 {
		t.Fatalf("bindings = %d before the body component arrived, want 0", bindings.Len())
	}

	store.Bodies().Set(1, scene.RigidBody{Kind: scene.KindRigid, Mass: 1})
	sync.Apply(context.Background())
	if bindings.Len() != 1 {
		t.Fatalf("bindings = %d after the pair completed, want 1", bindings.Len())
	}
}

func TestInboundMultibodySkipped(t *testing.T) {
	store, _, bindings, sync := newInboundFixture()
	store.Spawn(1, scene.NewTransform(), scene.RigidBody{Kind: scene.KindMultibody, Mass: 1})

	sync.Apply(context.Background())

	if bindings.Len() != 0 {
		t.Fatalf("bindings = %d for a multibody component, want 0", bindings.Len())
	}
}

func TestInboundBadWorldTransformSkipsEntity(t *testing.T) {
	store, _, bindings, sync := newInboundFixture()

	sheared := mgl64.Ident4()
	sheared.Set(0, 1, 0.5)
	store.WorldTransforms().Set(1, scene.WorldTransform{Mat: sheared})
	store.Bodies().Set(1, scene.RigidBody{Kind: scene.KindRigid, Mass: 1})

	// Entity 2 is healthy and must still be synchronized.
	spawnCrate(store, 2)

	sync.Apply(context.Background())

	if _, ok := bindings.HandleOf(1); ok {
		t.Fatal("binding created despite an unconvertible world transform")
	}
	if _, ok := bindings.HandleOf(2); !ok {
		t.Fatal("healthy entity not synchronized after a failing one")
	}
}

func TestInboundModifyPushesState(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()
	spawnCrate(store, 1)
	sync.Apply(context.Background())
	h, _ := bindings.HandleOf(1)

	body, _ := store.Bodies().Get(1)
	body.Velocity.Linear = mgl64.Vec3{5, 5, 5}
	body.Status = physics.StatusKinematic
	store.Bodies().Set(1, body)

	newPose := physics.Pose{Position: mgl64.Vec3{7, 8, 9}, Orientation: mgl64.QuatIdent()}
	store.WorldTransforms().Set(1, scene.WorldTransformFromPose(newPose, mgl64.Vec3{1, 1, 1}))

	sync.Apply(context.Background())

	state, _ := world.Body(h)
	if state.Pose.Position != (mgl64.Vec3{7, 8, 9}) {
		t.Fatalf("body position = %v, want [7 8 9]", state.Pose.Position)
	}
	if state.Velocity.Linear != (mgl64.Vec3{5, 5, 5}) {
		t.Fatalf("body velocity = %v, want [5 5 5]", state.Velocity.Linear)
	}
	if state.Status != physics.StatusKinematic {
		t.Fatalf("body status = %v, want kinematic", state.Status)
	}
	if bindings.Len() != 1 {
		t.Fatalf("bindings = %d after modification, want 1", bindings.Len())
	}
}

func TestInboundModifyDoesNotChangeMass(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()
	spawnCrate(store, 1)
	sync.Apply(context.Background())
	h, _ := bindings.HandleOf(1)

	body, _ := store.Bodies().Get(1)
	body.Mass = 50
	store.Bodies().Set(1, body)
	sync.Apply(context.Background())

	state, _ := world.Body(h)
	// Mass properties are creation-only; changing them requires recreating
	// the component pair.
	if state.Inertia.Linear != 2 {
		t.Fatalf("body mass = %v after component mass change, want 2", state.Inertia.Linear)
	}
}

func TestInboundBadTransformDropsWholeUpdate(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()
	spawnCrate(store, 1)
	sync.Apply(context.Background())
	h, _ := bindings.HandleOf(1)

	body, _ := store.Bodies().Get(1)
	body.Velocity.Linear = mgl64.Vec3{99, 0, 0}
	store.Bodies().Set(1, body)
	store.WorldTransforms().Set(1, scene.WorldTransform{Mat: mgl64.Scale3D(1, 2, 1)})

	sync.Apply(context.Background())

	// A pose that cannot be converted drops the entire update, velocity
	// included, so the pair of writes stays atomic.
	state, _ := world.Body(h)
	if state.Velocity.Linear == (mgl64.Vec3{99, 0, 0}) {
		t.Fatal("velocity pushed despite an unconvertible world transform")
	}
}

func TestInboundRemovalDestroysBody(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()
	spawnCrate(store, 1)
	sync.Apply(context.Background())
	h, _ := bindings.HandleOf(1)

	store.Despawn(1)
	sync.Apply(context.Background())

	if _, live := world.Body(h); live {
		t.Fatal("simulation body still alive after component removal")
	}
	if bindings.Len() != 0 {
		t.Fatalf("bindings = %d after removal, want 0", bindings.Len())
	}

	// Removing again is a no-op.
	store.Despawn(1)
	sync.Apply(context.Background())
}

func TestInboundDespawnRecordsNoSyncErrors(t *testing.T) {
	store := scene.NewStore()
	world := physics.NewFakeWorld(0.01)
	bindings := NewBindings()
	collector, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}
	sync := NewInboundSync(store, world, bindings, nil, collector)

	spawnCrate(store, 1)
	sync.Apply(context.Background())

	// A despawn removes components from every table; the resulting removal
	// events all describe the same entity and must count as one removal, not
	// as one removal plus spurious failures.
	store.Despawn(1)
	sync.Apply(context.Background())

	if bindings.Len() != 0 {
		t.Fatalf("bindings = %d after despawn, want 0", bindings.Len())
	}
	if got := testutil.ToFloat64(collector.SyncErrors.WithLabelValues("inbound", "missing_handle")); got != 0 {
		t.Fatalf("missing_handle sync errors after ordinary despawn = %v, want 0", got)
	}
}

func TestInboundRemovalWithoutBinding(t *testing.T) {
	store, _, _, sync := newInboundFixture()

	// Insert and remove within the same frame: no body was ever created, so
	// the removal has no binding to clean up and must not create one either.
	spawnCrate(store, 1)
	store.Despawn(1)

	sync.Apply(context.Background())
}

func TestInboundSameFrameRespawnReplacesBody(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()
	spawnCrate(store, 1)
	sync.Apply(context.Background())
	old, _ := bindings.HandleOf(1)

	// Despawn and respawn between two frames: the old body must go and a
	// fresh one take its place.
	store.Despawn(1)
	spawnCrate(store, 1)
	sync.Apply(context.Background())

	replacement, ok := bindings.HandleOf(1)
	if !ok {
		t.Fatal("no binding after respawn")
	}
	if replacement == old {
		t.Fatalf("binding still points at the old handle %v", old)
	}
	if _, live := world.Body(old); live {
		t.Fatal("stale body still alive after respawn")
	}
	if _, live := world.Body(replacement); !live {
		t.Fatal("replacement body missing")
	}
}

func TestInboundInsertReplacesPreboundBody(t *testing.T) {
	store, world, bindings, sync := newInboundFixture()

	// A binding left over from an earlier life of the entity, still pointing
	// at a live body, must be torn down before the insert creates its
	// replacement.
	stale := world.CreateBody(physics.IdentityPose(), physics.Inertia{Linear: 1}, mgl64.Vec3{})
	bindings.Bind(1, stale)

	spawnCrate(store, 1)
	sync.Apply(context.Background())

	if _, live := world.Body(stale); live {
		t.Fatal("stale body still alive after insert")
	}
	replacement, ok := bindings.HandleOf(1)
	if !ok {
		t.Fatal("no binding after insert")
	}
	if replacement == stale {
		t.Fatal("binding still points at the stale handle")
	}
}
