package timestep

import (
	"math"
	"testing"
	"time"
)

func TestEstimatorStartsUnknown(t *testing.T) {
	e := NewEstimator()
	if _, ok := e.Current(); ok {
		t.Fatal("Current() known = true before any observation")
	}
}

func TestEstimatorFirstObservationInitializes(t *testing.T) {
	e := NewEstimator()
	e.Observe(10 * time.Millisecond)
	got, ok := e.Current()
	if !ok {
		t.Fatal("Current() known = false after an observation")
	}
	if got != 0.010 {
		t.Fatalf("Current() = %v, want %v", got, 0.010)
	}
}

func TestEstimatorExponentialAverage(t *testing.T) {
	e := NewEstimator()
	e.Observe(10 * time.Millisecond)
	e.Observe(20 * time.Millisecond)

	// avg = 0.010 + 0.33*(0.020 - 0.010)
	want := 0.010 + DefaultFalloff*0.010
	got, _ := e.Current()
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Current() = %v, want %v", got, want)
	}

	e.Observe(20 * time.Millisecond)
	want += DefaultFalloff * (0.020 - want)
	got, _ = e.Current()
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Current() = %v, want %v", got, want)
	}
}

func TestEstimatorReset(t *testing.T) {
	e := NewEstimator()
	e.Observe(5 * time.Millisecond)
	e.Reset()
	if _, ok := e.Current(); ok {
		t.Fatal("Current() known = true after Reset")
	}

	// The next observation initializes from scratch rather than averaging
	// against stale data.
	e.Observe(40 * time.Millisecond)
	got, _ := e.Current()
	if got != 0.040 {
		t.Fatalf("Current() after reset = %v, want %v", got, 0.040)
	}
}
