package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kineticworks/simsync/internal/logging"
	"github.com/kineticworks/simsync/internal/observability"
	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/timestep"
)

// DefaultMaxTimesteps bounds sub-steps per frame when nothing else is
// configured.
const DefaultMaxTimesteps = 10

// FrameResult reports what one stepping pass did.
type FrameResult struct {
	// Step is the step size used this frame, in seconds.
	Step float64
	// StepChanged reports whether the step size differs from last frame.
	StepChanged bool
	// StepsTaken is the number of simulation steps executed.
	StepsTaken int
	// RunningSlow reports whether the sub-step bound was exceeded.
	RunningSlow bool
	// Accumulator is the unconsumed simulated-time debt carried forward.
	Accumulator float64
}

// Stepper drives the fixed-update accumulator loop: it converts a
// variable-rate frame delta into a bounded number of fixed simulation
// steps, measures each step's wall cost for the controller's estimator, and
// keeps the simulation's configured step size reconciled with the
// controller's choice.
//
// Bounding the loop trades long-term time accuracy for bounded worst-case
// frame cost: under sustained overload the simulation falls behind wall
// clock rather than stalling the frame.
type Stepper struct {
	world      physics.World
	controller *timestep.Controller

	maxTimesteps int
	accumulator  float64

	now     func() time.Time
	log     logging.Logger
	metrics *observability.PipelineCollector
}

// NewStepper builds a stepper. maxTimesteps bounds sub-steps per frame; a
// value of 0 pauses stepping while still accumulating time debt, and a
// negative value is a configuration error.
func NewStepper(world physics.World, controller *timestep.Controller, maxTimesteps int, log logging.Logger, metrics *observability.PipelineCollector) (*Stepper, error) {
	if world == nil {
		return nil, fmt.Errorf("stepper requires a simulation world")
	}
	if controller == nil {
		return nil, fmt.Errorf("stepper requires a timestep controller")
	}
	if maxTimesteps < 0 {
		return nil, fmt.Errorf("max timesteps must not be negative, got %d", maxTimesteps)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Stepper{
		world:        world,
		controller:   controller,
		maxTimesteps: maxTimesteps,
		now:          time.Now,
		log:          log,
		metrics:      metrics,
	}, nil
}

// SetClock overrides the wall-clock source used for step timing, mainly for
// tests.
func (s *Stepper) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Accumulator returns the current unconsumed time debt in seconds.
func (s *Stepper) Accumulator() float64 { return s.accumulator }

// Advance consumes the frame delta, stepping the simulation zero or more
// times.
func (s *Stepper) Advance(ctx context.Context, delta time.Duration) FrameResult {
	log := frameLogger(ctx, s.log)

	step, changed := s.controller.Resolve(ctx)
	if s.world.Timestep() != step && !changed {
		// Someone changed the simulation's step size behind our back. The
		// intended step always wins.
		log.Warn(ctx, "simulation timestep out of sync with intended timestep, reconciling",
			logging.Float64("simulation_step", s.world.Timestep()),
			logging.Float64("intended_step", step),
		)
		changed = true
	}
	if changed {
		s.controller.Estimator().Reset()
		s.world.SetTimestep(step)
		s.metrics.RecordTimestepChange()
	}

	s.accumulator += delta.Seconds()

	steps := 0
	if s.maxTimesteps > 0 {
		for steps <= s.maxTimesteps && s.accumulator >= step {
			start := s.now()
			s.world.Step()
			cost := s.now().Sub(start)
			s.controller.Estimator().Observe(cost)
			s.metrics.RecordStep(cost.Seconds())
			s.accumulator -= step
			steps++
		}
	}

	runningSlow := steps > s.maxTimesteps
	s.controller.SetRunningSlow(runningSlow)
	if runningSlow {
		log.Debug(ctx, "simulation running slow",
			logging.Int("steps", steps),
			logging.Int("max_timesteps", s.maxTimesteps),
			logging.Float64("accumulator", s.accumulator),
		)
	}

	return FrameResult{
		Step:        step,
		StepChanged: changed,
		StepsTaken:  steps,
		RunningSlow: runningSlow,
		Accumulator: s.accumulator,
	}
}
