package pipeline

import (
	"context"
	"sort"

	"github.com/kineticworks/simsync/internal/logging"
	"github.com/kineticworks/simsync/internal/observability"
	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/scene"
)

// InboundSync reconciles the simulation with scene-side changes: bodies are
// created the first frame after their components appear, updated on
// modification, and destroyed the frame their components are removed. It
// owns one change reader per component table; those cursors are consumed
// exactly once per frame.
type InboundSync struct {
	store    *scene.Store
	world    physics.World
	bindings *Bindings

	transformReader *scene.Reader[scene.WorldTransform]
	bodyReader      *scene.Reader[scene.RigidBody]

	log     logging.Logger
	metrics *observability.PipelineCollector
}

// NewInboundSync registers change readers on the store's transform and body
// tables and returns the sync component.
func NewInboundSync(store *scene.Store, world physics.World, bindings *Bindings, log logging.Logger, metrics *observability.PipelineCollector) *InboundSync {
	if log == nil {
		log = logging.Noop()
	}
	return &InboundSync{
		store:           store,
		world:           world,
		bindings:        bindings,
		transformReader: store.WorldTransforms().NewReader(),
		bodyReader:      store.Bodies().NewReader(),
		log:             log,
		metrics:         metrics,
	}
}

// Apply drains both change logs and pushes every insertion, modification,
// and removal into the simulation. Removals are handled first, then inserts,
// then modifications. A despawn removes components from every table, so
// removals are deduplicated per entity across tables; an entity both
// inserted and modified in the same frame is treated as inserted so its
// initial state is applied exactly once. No single entity's failure aborts
// the rest of the frame.
func (s *InboundSync) Apply(ctx context.Context) {
	log := frameLogger(ctx, s.log)

	inserted := make(map[scene.Entity]struct{})
	modified := make(map[scene.Entity]struct{})
	removed := make(map[scene.Entity]struct{})

	s.drain(s.transformReader.Read(), inserted, modified, removed)
	s.drain(s.bodyReader.Read(), inserted, modified, removed)

	// Insert dominates modify.
	for e := range inserted {
		delete(modified, e)
	}

	for _, e := range sortedEntities(removed) {
		s.applyRemoval(ctx, log, e)
	}
	for _, e := range sortedEntities(inserted) {
		s.applyInsert(ctx, log, e)
	}
	for _, e := range sortedEntities(modified) {
		s.applyModify(ctx, log, e)
	}
}

func (s *InboundSync) drain(events []scene.ChangeEvent, inserted, modified, removed map[scene.Entity]struct{}) {
	for _, ev := range events {
		switch ev.Kind {
		case scene.Inserted:
			inserted[ev.Entity] = struct{}{}
		case scene.Modified:
			modified[ev.Entity] = struct{}{}
		case scene.Removed:
			delete(inserted, ev.Entity)
			delete(modified, ev.Entity)
			removed[ev.Entity] = struct{}{}
		}
	}
}

// applyRemoval destroys the entity's simulation body. Removal is idempotent:
// an entity without a binding never had its body created (components inserted
// and removed in the same frame), so there is nothing to destroy.
func (s *InboundSync) applyRemoval(ctx context.Context, log logging.Logger, e scene.Entity) {
	h, ok := s.bindings.Unbind(e)
	if !ok {
		log.Debug(ctx, "removed entity has no simulation body",
			logging.Uint64("entity", uint64(e)),
		)
		return
	}
	s.world.RemoveBodies([]physics.Handle{h})

	// When only one of the component pair was removed, clear the stale
	// back-reference on the survivor.
	if body, exists := s.store.Bodies().Get(e); exists && body.Handle == h {
		body.Handle = physics.InvalidHandle
		s.store.Bodies().SetSilent(e, body)
	}
}

func (s *InboundSync) applyInsert(ctx context.Context, log logging.Logger, e scene.Entity) {
	body, ok := s.store.Bodies().Get(e)
	if !ok {
		// Component pair incomplete; the body insert will arrive later.
		log.Debug(ctx, "inserted entity has no rigid body component yet",
			logging.Uint64("entity", uint64(e)),
		)
		return
	}
	wt, ok := s.store.WorldTransforms().Get(e)
	if !ok {
		log.Debug(ctx, "inserted entity has no world transform yet",
			logging.Uint64("entity", uint64(e)),
		)
		return
	}
	if body.Kind != scene.KindRigid {
		log.Error(ctx, "multibody components are not supported",
			logging.Uint64("entity", uint64(e)),
		)
		s.metrics.RecordSyncError("inbound", "multibody")
		return
	}

	// Guard against duplicate-insert races: a stale body still alive in the
	// simulation must go before the replacement is created.
	if stale, bound := s.bindings.HandleOf(e); bound {
		if _, live := s.world.Body(stale); live {
			log.Debug(ctx, "removing stale body for re-inserted entity",
				logging.Uint64("entity", uint64(e)),
				logging.Uint64("handle", uint64(stale)),
			)
			s.world.RemoveBodies([]physics.Handle{stale})
		}
		s.bindings.Unbind(e)
	}

	pose, err := wt.Pose()
	if err != nil {
		log.Error(ctx, "cannot convert world transform to a body pose",
			logging.Uint64("entity", uint64(e)),
			logging.String("error", err.Error()),
		)
		s.metrics.RecordSyncError("inbound", "pose_conversion")
		return
	}

	h := s.world.CreateBody(pose, body.Inertia(), body.CenterOfMass)
	s.world.SetBodyVelocity(h, body.Velocity)
	s.world.ApplyForce(h, body.ExternalForce)
	s.world.SetBodyStatus(h, body.Status)
	s.bindings.Bind(e, h)

	// Forces are one-step impulses; the back-reference is engine state.
	// Neither write may re-trigger change detection.
	body.ExternalForce = physics.Force{}
	body.Handle = h
	s.store.Bodies().SetSilent(e, body)
}

func (s *InboundSync) applyModify(ctx context.Context, log logging.Logger, e scene.Entity) {
	body, ok := s.store.Bodies().Get(e)
	if !ok {
		log.Debug(ctx, "modified entity has no rigid body component",
			logging.Uint64("entity", uint64(e)),
		)
		return
	}
	if body.Kind != scene.KindRigid {
		log.Error(ctx, "multibody components are not supported",
			logging.Uint64("entity", uint64(e)),
		)
		s.metrics.RecordSyncError("inbound", "multibody")
		return
	}
	h, bound := s.bindings.HandleOf(e)
	if !bound {
		log.Warn(ctx, "modified entity has no simulation body, skipping",
			logging.Uint64("entity", uint64(e)),
		)
		s.metrics.RecordSyncError("inbound", "missing_handle")
		return
	}
	if _, live := s.world.Body(h); !live {
		// Stale reference; the body vanished from the simulation.
		log.Warn(ctx, "simulation body missing for modified entity, skipping",
			logging.Uint64("entity", uint64(e)),
			logging.Uint64("handle", uint64(h)),
		)
		s.metrics.RecordSyncError("inbound", "stale_handle")
		return
	}
	wt, ok := s.store.WorldTransforms().Get(e)
	if !ok {
		log.Debug(ctx, "modified entity has no world transform",
			logging.Uint64("entity", uint64(e)),
		)
		return
	}
	pose, err := wt.Pose()
	if err != nil {
		log.Error(ctx, "cannot convert world transform to a body pose, dropping update",
			logging.Uint64("entity", uint64(e)),
			logging.String("error", err.Error()),
		)
		s.metrics.RecordSyncError("inbound", "pose_conversion")
		return
	}

	s.world.SetBodyPose(h, pose)
	s.world.SetBodyVelocity(h, body.Velocity)
	s.world.ApplyForce(h, body.ExternalForce)
	s.world.SetBodyStatus(h, body.Status)
	// Mass and inertia changes after creation are not propagated; recreate
	// the component pair to change mass properties.
}

func sortedEntities(set map[scene.Entity]struct{}) []scene.Entity {
	out := make([]scene.Entity, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
