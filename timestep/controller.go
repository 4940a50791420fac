package timestep

import (
	"context"
	"errors"

	"github.com/kineticworks/simsync/internal/logging"
)

// ControllerConfig tunes the adaptive step selection.
type ControllerConfig struct {
	// TimeScale scales the relation between wall-clock and simulated time.
	// Defaults to 1.
	TimeScale float64
	// MaxPhysicsTimeFraction is the fraction of real time the simulation is
	// allowed to spend stepping. Defaults to 1 (the whole frame budget).
	MaxPhysicsTimeFraction float64
}

// Controller owns the step-size policy and decides, once per frame, which
// step the stepper should use. With a fixed policy it always returns the
// configured constant; with an adaptive policy it compares the estimated
// per-step cost against the current step and coarsens or refines within the
// constraint's hysteresis rules.
type Controller struct {
	step      TimeStep
	estimator *Estimator

	timeScale   float64
	maxFraction float64

	log logging.Logger
}

// NewController builds a controller around the given policy and estimator.
func NewController(step TimeStep, estimator *Estimator, cfg ControllerConfig, log logging.Logger) *Controller {
	if estimator == nil {
		estimator = NewEstimator()
	}
	if log == nil {
		log = logging.Noop()
	}
	timeScale := cfg.TimeScale
	if timeScale <= 0 {
		timeScale = 1
	}
	maxFraction := cfg.MaxPhysicsTimeFraction
	if maxFraction <= 0 {
		maxFraction = 1
	}
	return &Controller{
		step:        step,
		estimator:   estimator,
		timeScale:   timeScale,
		maxFraction: maxFraction,
		log:         log,
	}
}

// Step returns the step size currently in effect without re-evaluating it.
func (c *Controller) Step() float64 { return c.step.Current() }

// Estimator returns the controller's performance estimator, which the
// stepper feeds with per-step timings.
func (c *Controller) Estimator() *Estimator { return c.estimator }

// SetTimeScale updates the frame time scale.
func (c *Controller) SetTimeScale(scale float64) {
	if scale > 0 {
		c.timeScale = scale
	}
}

// SetRunningSlow forwards the stepper's per-frame overload signal into the
// hysteresis state. A no-op for fixed policies.
func (c *Controller) SetRunningSlow(slow bool) {
	if c.step.constraint != nil {
		c.step.constraint.SetRunningSlow(slow)
	}
}

// Resolve picks the step size for this frame. The second return reports
// whether the step differs from the previous authoritative step; on any
// change the performance estimate is reset, since it no longer describes the
// new step size.
func (c *Controller) Resolve(ctx context.Context) (float64, bool) {
	cons := c.step.constraint
	if cons == nil {
		return c.step.fixed, false
	}

	current := cons.Current()
	estimate, ok := c.estimator.Current()
	if !ok {
		return current, false
	}
	adjusted := estimate * c.timeScale / c.maxFraction

	if current < adjusted {
		// Step too fine for the available budget: try to coarsen.
		newStep, err := cons.Increase()
		if err != nil {
			c.logChangeFailure(ctx, "raise", err)
			return current, false
		}
		c.log.Info(ctx, "raising simulation timestep",
			logging.Float64("step", newStep),
			logging.Float64("estimated_step_cost", adjusted),
		)
		c.estimator.Reset()
		return newStep, true
	}

	if smaller, okSmaller := cons.Smaller(); okSmaller && smaller > adjusted {
		// Budget has room for finer resolution: try to refine.
		newStep, err := cons.Decrease()
		if err != nil {
			c.logChangeFailure(ctx, "lower", err)
			return current, false
		}
		c.log.Info(ctx, "lowering simulation timestep",
			logging.Float64("step", newStep),
			logging.Float64("estimated_step_cost", adjusted),
		)
		c.estimator.Reset()
		return newStep, true
	}

	return current, false
}

func (c *Controller) logChangeFailure(ctx context.Context, direction string, err error) {
	var minErr *MinimumTimeNotReachedError
	if errors.As(err, &minErr) || errors.Is(err, ErrNotRunningSlow) {
		// Hysteresis deferrals are the expected steady state under load.
		c.log.Debug(ctx, "timestep change deferred",
			logging.String("direction", direction),
			logging.Any("reason", err),
		)
		return
	}
	c.log.Warn(ctx, "failed to change simulation timestep",
		logging.String("direction", direction),
		logging.Any("reason", err),
	)
}
