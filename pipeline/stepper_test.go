package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/timestep"
)

func fixedController(t *testing.T, step float64) *timestep.Controller {
	t.Helper()
	ts, err := timestep.Fixed(step)
	if err != nil {
		t.Fatalf("Fixed: %v", err)
	}
	return timestep.NewController(ts, timestep.NewEstimator(), timestep.ControllerConfig{}, nil)
}

// stepperClock is a manual clock whose Step hook charges a fixed wall cost
// per simulation step.
func stepperClock(world *physics.FakeWorld, costPerStep time.Duration) func() time.Time {
	now := time.Unix(0, 0)
	world.OnStep = func() { now = now.Add(costPerStep) }
	return func() time.Time { return now }
}

func TestNewStepperValidation(t *testing.T) {
	world := physics.NewFakeWorld(0.01)
	controller := fixedController(t, 0.01)

	if _, err := NewStepper(nil, controller, 1, nil, nil); err == nil {
		t.Fatal("NewStepper(nil world) error = nil")
	}
	if _, err := NewStepper(world, nil, 1, nil, nil); err == nil {
		t.Fatal("NewStepper(nil controller) error = nil")
	}
	if _, err := NewStepper(world, controller, -1, nil, nil); err == nil {
		t.Fatal("NewStepper(negative max timesteps) error = nil")
	}
}

func TestStepperAccumulatorArithmetic(t *testing.T) {
	// Step and delta values chosen to be exactly representable so the
	// carry-over comparison is exact.
	world := physics.NewFakeWorld(0.25)
	s, err := NewStepper(world, fixedController(t, 0.25), 10, nil, nil)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	s.SetClock(stepperClock(world, time.Millisecond))

	res := s.Advance(context.Background(), 875*time.Millisecond)
	if res.StepsTaken != 3 {
		t.Fatalf("StepsTaken = %d, want 3", res.StepsTaken)
	}
	if res.Accumulator != 0.125 {
		t.Fatalf("Accumulator = %v, want 0.125", res.Accumulator)
	}
	if res.RunningSlow {
		t.Fatal("RunningSlow = true within the sub-step bound")
	}
	if world.Steps() != 3 {
		t.Fatalf("world stepped %d times, want 3", world.Steps())
	}

	// The leftover debt carries into the next frame.
	res = s.Advance(context.Background(), 125*time.Millisecond)
	if res.StepsTaken != 1 {
		t.Fatalf("StepsTaken on carry-over frame = %d, want 1", res.StepsTaken)
	}
	if res.Accumulator != 0 {
		t.Fatalf("Accumulator = %v, want 0", res.Accumulator)
	}
}

func TestStepperSmallDeltaTakesNoSteps(t *testing.T) {
	world := physics.NewFakeWorld(0.01)
	s, err := NewStepper(world, fixedController(t, 0.01), 10, nil, nil)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}

	res := s.Advance(context.Background(), 4*time.Millisecond)
	if res.StepsTaken != 0 {
		t.Fatalf("StepsTaken = %d, want 0", res.StepsTaken)
	}
	if math.Abs(res.Accumulator-0.004) > 1e-9 {
		t.Fatalf("Accumulator = %v, want 0.004", res.Accumulator)
	}
}

func TestStepperBoundsSubStepsAndSignalsSlow(t *testing.T) {
	world := physics.NewFakeWorld(0.01)
	s, err := NewStepper(world, fixedController(t, 0.01), 2, nil, nil)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	s.SetClock(stepperClock(world, time.Millisecond))

	res := s.Advance(context.Background(), 100*time.Millisecond)
	// The loop runs up to the bound plus the step that detects overflow.
	if res.StepsTaken != 3 {
		t.Fatalf("StepsTaken = %d, want 3", res.StepsTaken)
	}
	if !res.RunningSlow {
		t.Fatal("RunningSlow = false after exceeding the sub-step bound")
	}
	if math.Abs(res.Accumulator-0.07) > 1e-9 {
		t.Fatalf("Accumulator = %v, want 0.07", res.Accumulator)
	}
}

func TestStepperZeroMaxTimestepsPauses(t *testing.T) {
	world := physics.NewFakeWorld(0.01)
	s, err := NewStepper(world, fixedController(t, 0.01), 0, nil, nil)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}

	res := s.Advance(context.Background(), 50*time.Millisecond)
	if res.StepsTaken != 0 {
		t.Fatalf("StepsTaken = %d, want 0", res.StepsTaken)
	}
	if res.RunningSlow {
		t.Fatal("RunningSlow = true while paused")
	}
	if world.Steps() != 0 {
		t.Fatalf("world stepped %d times while paused, want 0", world.Steps())
	}
	// Time debt still accumulates.
	if math.Abs(res.Accumulator-0.05) > 1e-9 {
		t.Fatalf("Accumulator = %v, want 0.05", res.Accumulator)
	}
}

func TestStepperFeedsEstimator(t *testing.T) {
	world := physics.NewFakeWorld(0.01)
	controller := fixedController(t, 0.01)
	s, err := NewStepper(world, controller, 10, nil, nil)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	s.SetClock(stepperClock(world, 2*time.Millisecond))

	s.Advance(context.Background(), 10*time.Millisecond)
	got, ok := controller.Estimator().Current()
	if !ok {
		t.Fatal("estimator unknown after a step")
	}
	if math.Abs(got-0.002) > 1e-9 {
		t.Fatalf("estimated step cost = %v, want 0.002", got)
	}
}

func TestStepperReconcilesExternalTimestepChange(t *testing.T) {
	world := physics.NewFakeWorld(0.01)
	s, err := NewStepper(world, fixedController(t, 0.01), 10, nil, nil)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}

	// Someone pokes the simulation's step size directly.
	world.SetTimestep(0.02)

	res := s.Advance(context.Background(), time.Millisecond)
	if !res.StepChanged {
		t.Fatal("StepChanged = false after an external timestep change")
	}
	if world.Timestep() != 0.01 {
		t.Fatalf("world timestep = %v, want reconciled to 0.01", world.Timestep())
	}
}

func TestStepperAppliesControllerStepChange(t *testing.T) {
	cons, err := timestep.NewConstraint([]float64{0.01, 0.02}, 0)
	if err != nil {
		t.Fatalf("NewConstraint: %v", err)
	}
	controller := timestep.NewController(timestep.Adaptive(cons), timestep.NewEstimator(), timestep.ControllerConfig{}, nil)
	world := physics.NewFakeWorld(0.01)
	s, err := NewStepper(world, controller, 10, nil, nil)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}

	// Make the current step look too expensive and the simulation slow.
	controller.Estimator().Observe(50 * time.Millisecond)
	controller.SetRunningSlow(true)

	res := s.Advance(context.Background(), time.Millisecond)
	if !res.StepChanged {
		t.Fatal("StepChanged = false, want a coarser step applied")
	}
	if res.Step != 0.02 {
		t.Fatalf("Step = %v, want 0.02", res.Step)
	}
	if world.Timestep() != 0.02 {
		t.Fatalf("world timestep = %v, want 0.02", world.Timestep())
	}
	if _, ok := controller.Estimator().Current(); ok {
		t.Fatal("estimator not reset after the step change")
	}
}
