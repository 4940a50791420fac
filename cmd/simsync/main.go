// Command simsync runs the synchronization pipeline against the in-memory
// physics world: a static floor and a few falling crates, stepped at an
// adaptive timestep, with translated contact events logged as they happen.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kineticworks/simsync/internal/logging"
	"github.com/kineticworks/simsync/internal/observability"
	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/pipeline"
	"github.com/kineticworks/simsync/scene"
	"github.com/kineticworks/simsync/timestep"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "total run duration")
	frameRate := flag.Int("frame-rate", 60, "target frames per second")
	stepsFlag := flag.String("steps", "1/120,1/60", "comma-separated candidate step sizes, fractions or decimals")
	fixedStep := flag.Float64("fixed-step", 0, "use a fixed step size instead of adaptive candidates")
	minSlowTime := flag.Duration("min-slow-time", time.Second, "how long the simulation must run slow before the step is raised")
	maxTimesteps := flag.Int("max-timesteps", pipeline.DefaultMaxTimesteps, "maximum simulation sub-steps per frame (0 pauses stepping)")
	timeScale := flag.Float64("time-scale", 1, "frame time scale")
	maxPhysicsFraction := flag.Float64("max-physics-time-fraction", 1, "fraction of real time the simulation may spend stepping")
	metricsAddr := flag.String("metrics-addr", "", "listen address for /metrics (empty disables)")
	flag.Parse()

	ctx := context.Background()
	log := logging.NewFromEnv()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, log)

	collector, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		log.Error(ctx, "metrics init failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	controller, err := buildController(*fixedStep, *stepsFlag, *minSlowTime, *timeScale, *maxPhysicsFraction, log)
	if err != nil {
		log.Error(ctx, "invalid step configuration", logging.String("error", err.Error()))
		os.Exit(1)
	}

	world := physics.NewFakeWorld(controller.Step())
	store := scene.NewStore()

	pl, err := pipeline.New(store, world, controller, pipeline.Config{
		MaxTimesteps: *maxTimesteps,
		Logger:       log,
		Metrics:      collector,
	})
	if err != nil {
		log.Error(ctx, "pipeline init failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	// Register event readers before any frame runs; earlier events are not
	// replayed.
	contacts := pl.ContactEvents().NewReader()

	const (
		floorEntity = scene.Entity(1)
		crateBase   = scene.Entity(10)
		crateCount  = 3
	)
	seedScene(store, floorEntity, crateBase, crateCount)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error(ctx, "metrics server stopped", logging.String("error", err.Error()))
			}
		}()
		log.Info(ctx, "serving metrics", logging.String("addr", *metricsAddr))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	log.Info(ctx, "starting simulation",
		logging.Float64("step", controller.Step()),
		logging.Int("frame_rate", *frameRate),
		logging.Any("duration", *duration),
	)

	ticker := time.NewTicker(time.Second / time.Duration(*frameRate))
	defer ticker.Stop()

	deadline := time.Now().Add(*duration)
	last := time.Now()
	frames := 0
	colliders := make(map[scene.Entity]physics.Handle)
	landed := make(map[scene.Entity]bool)

loop:
	for {
		select {
		case <-sigs:
			log.Info(ctx, "interrupted")
			break loop
		case now := <-ticker.C:
			if now.After(deadline) {
				break loop
			}
			delta := now.Sub(last)
			last = now

			pl.Frame(ctx, delta)
			frames++

			// Colliders can only be attached once the inbound pass has
			// created the bodies and written back their handles.
			if frames == 1 {
				attachColliders(world, store, colliders, floorEntity, crateBase, crateCount)
			}
			queueLandings(world, store, colliders, landed, floorEntity, crateBase, crateCount)

			for _, ev := range contacts.Read() {
				log.Info(ctx, "contact",
					logging.Uint64("entity_a", uint64(ev.EntityA)),
					logging.Uint64("entity_b", uint64(ev.EntityB)),
					logging.String("kind", ev.Event.Kind.String()),
				)
			}
		}
	}

	log.Info(ctx, "simulation finished",
		logging.Int("frames", frames),
		logging.Int("simulation_steps", world.Steps()),
		logging.Float64("final_step", controller.Step()),
	)
}

func buildController(fixed float64, stepsCSV string, minSlowTime time.Duration, timeScale, maxFraction float64, log logging.Logger) (*timestep.Controller, error) {
	var policy timestep.TimeStep
	if fixed > 0 {
		var err error
		policy, err = timestep.Fixed(fixed)
		if err != nil {
			return nil, err
		}
	} else {
		steps, err := parseSteps(stepsCSV)
		if err != nil {
			return nil, err
		}
		constraint, err := timestep.NewConstraint(steps, minSlowTime)
		if err != nil {
			return nil, err
		}
		policy = timestep.Adaptive(constraint)
	}
	cfg := timestep.ControllerConfig{
		TimeScale:              timeScale,
		MaxPhysicsTimeFraction: maxFraction,
	}
	return timestep.NewController(policy, timestep.NewEstimator(), cfg, log), nil
}

// parseSteps reads "1/120,1/60" or plain decimals.
func parseSteps(csv string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if num, den, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return nil, fmt.Errorf("parse step %q: %w", part, err)
			}
			d, err := strconv.ParseFloat(den, 64)
			if err != nil {
				return nil, fmt.Errorf("parse step %q: %w", part, err)
			}
			if d == 0 {
				return nil, fmt.Errorf("parse step %q: zero denominator", part)
			}
			out = append(out, n/d)
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse step %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func seedScene(store *scene.Store, floor, crateBase scene.Entity, crates int) {
	// Scale must stay uniform for the body pose to be derivable from the
	// world transform.
	floorTransform := scene.NewTransform()
	floorTransform.Scale = mgl64.Vec3{10, 10, 10}
	store.Spawn(floor, floorTransform, scene.RigidBody{
		Kind:   scene.KindRigid,
		Status: physics.StatusStatic,
	})

	for i := 0; i < crates; i++ {
		t := scene.NewTransform()
		t.Pose.Position = mgl64.Vec3{float64(i) * 2, 5 + float64(i)*3, 0}
		store.Spawn(crateBase+scene.Entity(i), t, scene.RigidBody{
			Kind:        scene.KindRigid,
			Mass:        2,
			AngularMass: 1,
			Velocity: physics.Velocity{
				Linear: mgl64.Vec3{0, -2, 0},
			},
			Status: physics.StatusDynamic,
		})
	}
}

// attachColliders reads the handle back-references the pipeline wrote into
// the rigid-body components and registers one collider per body.
func attachColliders(world *physics.FakeWorld, store *scene.Store, colliders map[scene.Entity]physics.Handle, floor, crateBase scene.Entity, crates int) {
	entities := []scene.Entity{floor}
	for i := 0; i < crates; i++ {
		entities = append(entities, crateBase+scene.Entity(i))
	}
	for _, e := range entities {
		body, ok := store.Bodies().Get(e)
		if !ok || body.Handle == physics.InvalidHandle {
			continue
		}
		colliders[e] = world.CreateCollider(body.Handle)
	}
}

// queueLandings fakes narrow-phase output: the first time a crate drops to
// floor level, a contact-start event between its collider and the floor's is
// queued for the next frame's translation.
func queueLandings(world *physics.FakeWorld, store *scene.Store, colliders map[scene.Entity]physics.Handle, landed map[scene.Entity]bool, floor, crateBase scene.Entity, crates int) {
	floorCollider, ok := colliders[floor]
	if !ok {
		return
	}
	for i := 0; i < crates; i++ {
		e := crateBase + scene.Entity(i)
		if landed[e] {
			continue
		}
		local, ok := store.Transforms().Get(e)
		if !ok {
			continue
		}
		if local.Pose.Position.Y() <= 0.5 {
			landed[e] = true
			world.QueueContactEvent(physics.ContactEvent{
				Kind:      physics.ContactStarted,
				ColliderA: colliders[e],
				ColliderB: floorCollider,
			})
		}
	}
}
