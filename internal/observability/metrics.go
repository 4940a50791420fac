package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineCollector bundles Prometheus metrics for the frame pipeline:
// stepping behaviour, synchronization errors, and event translation.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	FramesTotal   prometheus.Counter
	FrameDuration prometheus.Histogram
	Substeps      prometheus.Histogram
	StepDuration  prometheus.Histogram
	StepSize      prometheus.Gauge

	RunningSlowTotal     prometheus.Counter
	TimestepChangesTotal prometheus.Counter

	SyncErrors       *prometheus.CounterVec
	BodiesSynced     prometheus.Gauge
	EventsTranslated *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
}

// NewPipelineCollector registers the pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Re-registration reuses the existing collectors.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frames, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simsync_frames_total",
		Help: "Total number of frames processed by the pipeline.",
	}), "simsync_frames_total")
	if err != nil {
		return nil, err
	}

	frameDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simsync_frame_duration_seconds",
		Help:    "Wall-clock cost of one full pipeline frame.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}), "simsync_frame_duration_seconds")
	if err != nil {
		return nil, err
	}

	substeps, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simsync_substeps_per_frame",
		Help:    "Number of simulation sub-steps executed per frame.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 11, 16},
	}), "simsync_substeps_per_frame")
	if err != nil {
		return nil, err
	}

	stepDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simsync_step_duration_seconds",
		Help:    "Wall-clock cost of a single simulation step.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	}), "simsync_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	stepSize, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simsync_step_size_seconds",
		Help: "Simulation step size currently in effect.",
	}), "simsync_step_size_seconds")
	if err != nil {
		return nil, err
	}

	runningSlow, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simsync_running_slow_frames_total",
		Help: "Frames in which the stepper exceeded its sub-step bound.",
	}), "simsync_running_slow_frames_total")
	if err != nil {
		return nil, err
	}

	timestepChanges, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simsync_timestep_changes_total",
		Help: "Successful changes of the simulation step size.",
	}), "simsync_timestep_changes_total")
	if err != nil {
		return nil, err
	}

	syncErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simsync_sync_errors_total",
		Help: "Recoverable per-entity synchronization failures, labeled by stage and reason.",
	}, []string{"stage", "reason"}), "simsync_sync_errors_total")
	if err != nil {
		return nil, err
	}

	bodiesSynced, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simsync_bodies_synced",
		Help: "Bodies written back to the scene during the last outbound pass.",
	}), "simsync_bodies_synced")
	if err != nil {
		return nil, err
	}

	eventsTranslated, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simsync_events_translated_total",
		Help: "Collision events successfully resolved to entity pairs, labeled by kind.",
	}, []string{"kind"}), "simsync_events_translated_total")
	if err != nil {
		return nil, err
	}

	eventsDropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simsync_events_dropped_total",
		Help: "Collision events dropped because a participant did not resolve, labeled by kind.",
	}, []string{"kind"}), "simsync_events_dropped_total")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:             gatherer,
		FramesTotal:          frames,
		FrameDuration:        frameDuration,
		Substeps:             substeps,
		StepDuration:         stepDuration,
		StepSize:             stepSize,
		RunningSlowTotal:     runningSlow,
		TimestepChangesTotal: timestepChanges,
		SyncErrors:           syncErrors,
		BodiesSynced:         bodiesSynced,
		EventsTranslated:     eventsTranslated,
		EventsDropped:        eventsDropped,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordFrame records the end-of-frame stepping observations. Safe on a nil
// collector so the pipeline can run unmetered.
func (c *PipelineCollector) RecordFrame(duration float64, substeps int, stepSize float64, runningSlow bool) {
	if c == nil {
		return
	}
	if c.FramesTotal != nil {
		c.FramesTotal.Inc()
	}
	if c.FrameDuration != nil {
		c.FrameDuration.Observe(duration)
	}
	if c.Substeps != nil {
		c.Substeps.Observe(float64(substeps))
	}
	if c.StepSize != nil {
		c.StepSize.Set(stepSize)
	}
	if runningSlow && c.RunningSlowTotal != nil {
		c.RunningSlowTotal.Inc()
	}
}

// RecordStep records the wall cost of one simulation step.
func (c *PipelineCollector) RecordStep(seconds float64) {
	if c == nil || c.StepDuration == nil {
		return
	}
	c.StepDuration.Observe(seconds)
}

// RecordTimestepChange records a successful step-size change.
func (c *PipelineCollector) RecordTimestepChange() {
	if c == nil || c.TimestepChangesTotal == nil {
		return
	}
	c.TimestepChangesTotal.Inc()
}

// RecordSyncError records a recoverable per-entity failure.
func (c *PipelineCollector) RecordSyncError(stage, reason string) {
	if c == nil || c.SyncErrors == nil {
		return
	}
	c.SyncErrors.WithLabelValues(stage, reason).Inc()
}

// RecordBodiesSynced records how many bodies the outbound pass wrote back.
func (c *PipelineCollector) RecordBodiesSynced(n int) {
	if c == nil || c.BodiesSynced == nil {
		return
	}
	c.BodiesSynced.Set(float64(n))
}

// RecordEventTranslated records a successfully translated collision event.
func (c *PipelineCollector) RecordEventTranslated(kind string) {
	if c == nil || c.EventsTranslated == nil {
		return
	}
	c.EventsTranslated.WithLabelValues(kind).Inc()
}

// RecordEventDropped records a collision event dropped during translation.
func (c *PipelineCollector) RecordEventDropped(kind string) {
	if c == nil || c.EventsDropped == nil {
		return
	}
	c.EventsDropped.WithLabelValues(kind).Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
