// Package timestep selects the simulation step size each frame, either as a
// fixed constant or adaptively from a set of candidate steps with hysteresis
// against rapid oscillation.
package timestep

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultStep is the step size used when nothing else is configured.
const DefaultStep = 1.0 / 120.0

// Errors reported when the step size cannot change. All of them are
// recoverable; callers keep the previous step and may retry next frame.
var (
	// ErrMaximumTimestepReached indicates no larger candidate step exists.
	ErrMaximumTimestepReached = errors.New("no larger timestep available")
	// ErrMinimumTimestepReached indicates no smaller candidate step exists.
	ErrMinimumTimestepReached = errors.New("no smaller timestep available")
	// ErrNotRunningSlow indicates an increase was requested while the
	// simulation is keeping up.
	ErrNotRunningSlow = errors.New("simulation is not running slow")

	// ErrNoTimesteps indicates an empty candidate list at construction.
	ErrNoTimesteps = errors.New("no candidate timesteps given")
	// ErrNonPositiveTimestep indicates a zero or negative step value.
	ErrNonPositiveTimestep = errors.New("timestep must be strictly positive")
)

// MinimumTimeNotReachedError indicates the simulation has not been running
// slow for long enough to permit an increase yet.
type MinimumTimeNotReachedError struct {
	// Remaining is how much longer the slow state must persist.
	Remaining time.Duration
}

func (e *MinimumTimeNotReachedError) Error() string {
	return fmt.Sprintf("minimum slow time not reached, %v remaining", e.Remaining)
}

// TimeStep is the step-size policy: either a fixed constant or an adaptive
// choice from a Constraint.
type TimeStep struct {
	fixed      float64
	constraint *Constraint
}

// Fixed returns a policy that always uses the given step.
func Fixed(step float64) (TimeStep, error) {
	if step <= 0 {
		return TimeStep{}, fmt.Errorf("fixed step %v: %w", step, ErrNonPositiveTimestep)
	}
	return TimeStep{fixed: step}, nil
}

// Adaptive returns a policy that picks steps from the given constraint.
func Adaptive(c *Constraint) TimeStep {
	return TimeStep{constraint: c}
}

// IsAdaptive reports whether the policy can change its step.
func (t TimeStep) IsAdaptive() bool { return t.constraint != nil }

// Current returns the step size currently in effect.
func (t TimeStep) Current() float64 {
	if t.constraint != nil {
		return t.constraint.Current()
	}
	return t.fixed
}

// Constraint holds the candidate steps for an adaptive policy together with
// the hysteresis state gating changes. Increasing the step means fewer
// updates per second; decreasing means more.
//
// The hysteresis tracks how long the simulation has been continuously
// running slow: an increase is only permitted once that duration reaches
// MinimumSlowTime. Returning to normal clears the state. Decreases are
// bounded only by the candidate list; by the time the controller considers
// refining, the running-slow signal is false by definition, and the
// estimator reset after every successful change rate-limits consecutive
// changes on its own.
type Constraint struct {
	steps []float64
	index int

	minimumSlowTime  time.Duration
	runningSlowSince time.Time

	now func() time.Time
}

// NewConstraint builds a constraint from the candidate step sizes, sorted
// ascending with duplicates removed. minimumSlowTime is how long the
// simulation must run slow before the step may be increased.
func NewConstraint(steps []float64, minimumSlowTime time.Duration) (*Constraint, error) {
	if len(steps) == 0 {
		return nil, ErrNoTimesteps
	}
	sorted := make([]float64, len(steps))
	copy(sorted, steps)
	sort.Float64s(sorted)
	deduped := sorted[:1]
	for _, s := range sorted[1:] {
		if s != deduped[len(deduped)-1] {
			deduped = append(deduped, s)
		}
	}
	if deduped[0] <= 0 {
		return nil, fmt.Errorf("candidate step %v: %w", deduped[0], ErrNonPositiveTimestep)
	}
	return &Constraint{
		steps:           deduped,
		minimumSlowTime: minimumSlowTime,
		now:             time.Now,
	}, nil
}

// SetClock overrides the wall-clock source used for hysteresis timing,
// mainly for tests.
func (c *Constraint) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Current returns the candidate step currently in use.
func (c *Constraint) Current() float64 { return c.steps[c.index] }

// Smaller returns the next smaller candidate step, if one exists.
func (c *Constraint) Smaller() (float64, bool) {
	if c.index == 0 {
		return 0, false
	}
	return c.steps[c.index-1], true
}

// SetRunningSlow records whether the stepper exceeded its sub-step bound
// this frame. Call once per frame, after stepping.
func (c *Constraint) SetRunningSlow(slow bool) {
	if !slow {
		c.runningSlowSince = time.Time{}
		return
	}
	if c.runningSlowSince.IsZero() {
		c.runningSlowSince = c.now()
	}
}

// RunningSlow reports whether the simulation is currently flagged as slow.
func (c *Constraint) RunningSlow() bool { return !c.runningSlowSince.IsZero() }

// Increase moves to the next larger candidate step. It fails unless the
// simulation has been running slow continuously for MinimumSlowTime.
func (c *Constraint) Increase() (float64, error) {
	if c.runningSlowSince.IsZero() {
		return 0, ErrNotRunningSlow
	}
	if slowFor := c.now().Sub(c.runningSlowSince); slowFor < c.minimumSlowTime {
		return 0, &MinimumTimeNotReachedError{Remaining: c.minimumSlowTime - slowFor}
	}
	if c.index >= len(c.steps)-1 {
		return 0, ErrMaximumTimestepReached
	}
	c.index++
	return c.Current(), nil
}

// Decrease moves to the next smaller candidate step.
func (c *Constraint) Decrease() (float64, error) {
	if c.index == 0 {
		return 0, ErrMinimumTimestepReached
	}
	c.index--
	return c.Current(), nil
}
