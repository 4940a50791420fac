package timestep

import "time"

// DefaultFalloff is the exponential falloff factor applied to new
// observations.
const DefaultFalloff = 0.33

// Estimator keeps an exponentially weighted moving average of per-step
// wall-clock cost in seconds. The average starts unknown and must be reset
// whenever the step size changes, since observations taken under a different
// step no longer describe current behaviour.
type Estimator struct {
	falloff float64
	avg     float64
	known   bool
}

// NewEstimator returns an estimator with the default falloff factor.
func NewEstimator() *Estimator {
	return &Estimator{falloff: DefaultFalloff}
}

// Observe folds a new per-step duration into the moving average. The first
// observation after construction or Reset initializes the average.
func (e *Estimator) Observe(d time.Duration) {
	secs := d.Seconds()
	if !e.known {
		e.avg = secs
		e.known = true
		return
	}
	e.avg += e.falloff * (secs - e.avg)
}

// Reset clears the average back to unknown.
func (e *Estimator) Reset() {
	e.avg = 0
	e.known = false
}

// Current returns the estimated per-step cost in seconds, and whether an
// estimate exists yet.
func (e *Estimator) Current() (float64, bool) {
	return e.avg, e.known
}
