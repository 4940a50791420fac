package pipeline

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/kineticworks/simsync/internal/logging"
	"github.com/kineticworks/simsync/internal/observability"
	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/scene"
)

// OutboundSync copies authoritative body state back into scene components
// after stepping and translates raw collision events into entity-pair
// events. It never creates or destroys bodies.
type OutboundSync struct {
	store    *scene.Store
	world    physics.World
	bindings *Bindings

	contacts    *Channel[EntityContactEvent]
	proximities *Channel[EntityProximityEvent]

	log     logging.Logger
	metrics *observability.PipelineCollector
}

// NewOutboundSync returns the outbound half of the synchronization
// protocol, emitting translated events into the given channels.
func NewOutboundSync(store *scene.Store, world physics.World, bindings *Bindings, contacts *Channel[EntityContactEvent], proximities *Channel[EntityProximityEvent], log logging.Logger, metrics *observability.PipelineCollector) *OutboundSync {
	if log == nil {
		log = logging.Noop()
	}
	return &OutboundSync{
		store:       store,
		world:       world,
		bindings:    bindings,
		contacts:    contacts,
		proximities: proximities,
		log:         log,
		metrics:     metrics,
	}
}

// Apply writes simulation state back to the scene and drains the
// simulation's event queues. All writes go through the silent path so they
// never echo back through inbound change detection.
func (s *OutboundSync) Apply(ctx context.Context) {
	log := frameLogger(ctx, s.log)

	synced := 0
	for _, e := range s.store.Bodies().Entities() {
		body, ok := s.store.Bodies().Get(e)
		if !ok {
			continue
		}

		h := body.Handle
		if h == physics.InvalidHandle {
			bound, okBound := s.bindings.HandleOf(e)
			if !okBound {
				log.Error(ctx, "rigid body component without a simulation body",
					logging.Uint64("entity", uint64(e)),
				)
				s.metrics.RecordSyncError("outbound", "orphaned_component")
				continue
			}
			h = bound
		}

		state, live := s.world.Body(h)
		if !live {
			log.Error(ctx, "body handle does not resolve in the simulation",
				logging.Uint64("entity", uint64(e)),
				logging.Uint64("handle", uint64(h)),
			)
			s.metrics.RecordSyncError("outbound", "stale_handle")
			continue
		}
		if !state.Active || state.IsStatic() {
			// Sleeping and static bodies cannot have moved.
			continue
		}

		scale := mgl64.Vec3{1, 1, 1}
		local, hasLocal := s.store.Transforms().Get(e)
		if hasLocal {
			scale = local.Scale
		}
		s.store.WorldTransforms().SetSilent(e, scene.WorldTransformFromPose(state.Pose, scale))
		if hasLocal {
			local.Pose = state.Pose
			s.store.Transforms().SetSilent(e, local)
		}

		body.Velocity = state.Velocity
		body.Mass = state.Inertia.Linear
		body.AngularMass = state.Inertia.Angular
		body.CenterOfMass = state.CenterOfMass
		s.store.Bodies().SetSilent(e, body)
		synced++
	}
	s.metrics.RecordBodiesSynced(synced)

	s.translateEvents(ctx, log)
}

// translateEvents resolves each raw event's collider handles back to owning
// entities. An event is emitted only when both sides resolve; partial events
// are dropped with an error.
func (s *OutboundSync) translateEvents(ctx context.Context, log logging.Logger) {
	for _, ev := range s.world.DrainContactEvents() {
		a, okA := s.resolveCollider(ev.ColliderA)
		b, okB := s.resolveCollider(ev.ColliderB)
		if !okA || !okB {
			log.Error(ctx, "cannot resolve contact event participant to an entity, dropping event",
				logging.Uint64("collider_a", uint64(ev.ColliderA)),
				logging.Uint64("collider_b", uint64(ev.ColliderB)),
			)
			s.metrics.RecordEventDropped("contact")
			continue
		}
		s.contacts.Write(EntityContactEvent{EntityA: a, EntityB: b, Event: ev})
		s.metrics.RecordEventTranslated("contact")
	}

	for _, ev := range s.world.DrainProximityEvents() {
		a, okA := s.resolveCollider(ev.ColliderA)
		b, okB := s.resolveCollider(ev.ColliderB)
		if !okA || !okB {
			log.Error(ctx, "cannot resolve proximity event participant to an entity, dropping event",
				logging.Uint64("collider_a", uint64(ev.ColliderA)),
				logging.Uint64("collider_b", uint64(ev.ColliderB)),
			)
			s.metrics.RecordEventDropped("proximity")
			continue
		}
		s.proximities.Write(EntityProximityEvent{EntityA: a, EntityB: b, Event: ev})
		s.metrics.RecordEventTranslated("proximity")
	}
}

func (s *OutboundSync) resolveCollider(collider physics.Handle) (scene.Entity, bool) {
	body, ok := s.world.ColliderBody(collider)
	if !ok {
		return 0, false
	}
	return s.bindings.EntityOf(body)
}
