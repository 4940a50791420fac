// Package pipeline wires the per-frame control flow of the simulation:
// scene changes are pushed into the physics world, the world is stepped a
// bounded number of times under the adaptive timestep controller, and the
// resulting body state and collision events are synchronized back out.
//
// The whole pipeline is single-threaded: one Frame call runs InboundSync,
// the Stepper, and OutboundSync to completion, and the scene store and the
// simulation world must not be mutated from outside while it runs.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kineticworks/simsync/internal/logging"
	"github.com/kineticworks/simsync/internal/observability"
	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/scene"
	"github.com/kineticworks/simsync/timestep"
)

const tracerName = "github.com/kineticworks/simsync/pipeline"

// Config carries the pipeline's tunables and ambient collaborators.
type Config struct {
	// MaxTimesteps bounds simulation sub-steps per frame. Zero pauses
	// stepping; negative is rejected. Defaults stay explicit: use
	// DefaultMaxTimesteps unless you mean something else.
	MaxTimesteps int
	// Logger receives all pipeline logs. Defaults to a noop logger.
	Logger logging.Logger
	// Metrics, when set, records pipeline behaviour. Optional.
	Metrics *observability.PipelineCollector
}

// Pipeline owns one frame's worth of synchronization against a scene store
// and a simulation world.
type Pipeline struct {
	store *scene.Store
	world physics.World

	bindings *Bindings
	stepper  *Stepper
	inbound  *InboundSync
	outbound *OutboundSync

	contacts    *Channel[EntityContactEvent]
	proximities *Channel[EntityProximityEvent]

	frame   uint64
	tracer  trace.Tracer
	now     func() time.Time
	log     logging.Logger
	metrics *observability.PipelineCollector
}

// New assembles the full pipeline around the given store, world, and
// timestep controller.
func New(store *scene.Store, world physics.World, controller *timestep.Controller, cfg Config) (*Pipeline, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	stepper, err := NewStepper(world, controller, cfg.MaxTimesteps, log, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	bindings := NewBindings()
	contacts := NewChannel[EntityContactEvent]()
	proximities := NewChannel[EntityProximityEvent]()

	return &Pipeline{
		store:       store,
		world:       world,
		bindings:    bindings,
		stepper:     stepper,
		inbound:     NewInboundSync(store, world, bindings, log, cfg.Metrics),
		outbound:    NewOutboundSync(store, world, bindings, contacts, proximities, log, cfg.Metrics),
		contacts:    contacts,
		proximities: proximities,
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		log:         log,
		metrics:     cfg.Metrics,
	}, nil
}

// ContactEvents returns the channel of translated contact events. Register
// readers before running frames; events predating a reader are not
// replayed.
func (p *Pipeline) ContactEvents() *Channel[EntityContactEvent] { return p.contacts }

// ProximityEvents returns the channel of translated proximity events.
func (p *Pipeline) ProximityEvents() *Channel[EntityProximityEvent] { return p.proximities }

// Stepper exposes the stepping component, mainly so callers can inspect the
// accumulator or inject a test clock.
func (p *Pipeline) Stepper() *Stepper { return p.stepper }

// Frame runs one full pipeline pass for the given wall-clock delta:
// InboundSync, then stepping, then OutboundSync, followed by log
// compaction.
func (p *Pipeline) Frame(ctx context.Context, delta time.Duration) FrameResult {
	p.frame++
	ctx, frameLog := logging.WithFrameLogger(ctx, p.log, p.frame)
	ctx = logging.ContextWithLogger(ctx, frameLog)

	start := p.now()
	ctx, span := p.tracer.Start(ctx, "pipeline.frame", trace.WithAttributes(
		attribute.Int64("frame.number", int64(p.frame)),
		attribute.Float64("frame.delta_seconds", delta.Seconds()),
	))
	defer span.End()

	p.inbound.Apply(ctx)
	result := p.stepper.Advance(ctx, delta)
	p.outbound.Apply(ctx)

	p.store.Compact()
	p.contacts.Compact()
	p.proximities.Compact()

	span.SetAttributes(
		attribute.Int("frame.substeps", result.StepsTaken),
		attribute.Float64("frame.step_seconds", result.Step),
		attribute.Bool("frame.running_slow", result.RunningSlow),
	)
	p.metrics.RecordFrame(p.now().Sub(start).Seconds(), result.StepsTaken, result.Step, result.RunningSlow)

	return result
}

// frameLogger prefers the frame-annotated logger stored on the context by
// Frame, falling back to the component's own logger.
func frameLogger(ctx context.Context, fallback logging.Logger) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return fallback
}
