// Package endpoint holds the per-job coordinator-side state described in
// spec.md 3 ("Endpoint"): hardware bookkeeping, the bounded epoch/progress
// series, and the fitted runtime model.
package endpoint

import (
	"math"

	"github.com/clusterops/powerbalance/internal/powerlimits"
	"github.com/clusterops/powerbalance/internal/runtimemodel"
)

// samplePoint is one (capAtSample, durationAtSample) pair.
type samplePoint struct {
	Cap      float64
	Duration float64
}

// series is a bounded, append-only, insertion-ordered ring buffer of
// samplePoints. Once full, the oldest entry is evicted to make room for
// the newest, preserving append-order for the remaining entries.
type series struct {
	points []samplePoint
	cap    int
}

func newSeries(capacity int) *series {
	return &series{points: make([]samplePoint, 0, capacity), cap: capacity}
}

func (s *series) Append(p samplePoint) {
	if len(s.points) >= s.cap {
		copy(s.points, s.points[1:])
		s.points = s.points[:len(s.points)-1]
	}
	s.points = append(s.points, p)
}

func (s *series) Len() int { return len(s.points) }

func (s *series) CapsAndDurations() (caps, durations []float64) {
	caps = make([]float64, len(s.points))
	durations = make([]float64, len(s.points))
	for i, p := range s.points {
		caps[i] = p.Cap
		durations[i] = p.Duration
	}
	return caps, durations
}

// Endpoint is one live TCP session's coordinator-side state.
type Endpoint struct {
	HostCount int
	Profile   string

	CurrentCap    float64
	MeasuredPower float64

	epochSeries    *series
	progressSeries *series

	lastEpoch        float64
	lastEpochTime    float64
	lastProgress     float64
	lastProgressTime float64

	samplesInLastModel int
	model              *runtimemodel.Model

	// staticModel is the pre-characterized fallback resolved from the
	// app-info table (and confusion overrides) at handshake time.
	staticModel         *runtimemodel.Model
	usePreCharacterized bool
	ignoreRunTimeModels bool
}

// New creates an endpoint at its initial handshake state: currentCap =
// POWER_MAX, per spec.md 4.2.
func New(hostCount int, profile string, staticModel *runtimemodel.Model, usePreCharacterized, ignoreRunTimeModels bool) *Endpoint {
	return &Endpoint{
		HostCount:           hostCount,
		Profile:             profile,
		CurrentCap:          powerlimits.PowerMax,
		MeasuredPower:       math.NaN(),
		epochSeries:         newSeries(powerlimits.SeriesCapacity),
		progressSeries:      newSeries(powerlimits.SeriesCapacity),
		staticModel:         staticModel,
		usePreCharacterized: usePreCharacterized,
		ignoreRunTimeModels: ignoreRunTimeModels,
	}
}

// ApplySample folds one inbound sample into the endpoint's series,
// respecting the deduplication and validity gates in spec.md 4.2:
// append only when the cursor strictly advances, duration > 0, and cap
// is finite.
func (e *Endpoint) ApplySample(measuredPower, epochCount, epochCap, epochDuration, progress, progressCap, progressDuration float64) {
	e.MeasuredPower = measuredPower

	if !math.IsNaN(epochCount) && !math.IsNaN(epochCap) && !math.IsNaN(epochDuration) {
		if epochCount > e.lastEpoch {
			e.lastEpoch = epochCount
			e.lastEpochTime = epochDuration
			if epochDuration > 0 && !math.IsInf(epochCap, 0) {
				e.epochSeries.Append(samplePoint{Cap: epochCap, Duration: epochDuration})
			}
		}
	}

	if !math.IsNaN(progress) && !math.IsNaN(progressCap) && !math.IsNaN(progressDuration) {
		if progress > e.lastProgress {
			e.lastProgress = progress
			e.lastProgressTime = progressDuration
			if progressDuration > 0 && !math.IsInf(progressCap, 0) {
				e.progressSeries.Append(samplePoint{Cap: progressCap, Duration: progressDuration})
			}
		}
	}
}

// activeSeries picks epoch data unless it's shorter than the preference
// threshold, per spec.md 4.2: "A shorter series (progress) is used when
// the longer (epoch) series has fewer than 20 entries; otherwise epoch
// data is used."
func (e *Endpoint) activeSeries() *series {
	if e.epochSeries.Len() < powerlimits.EpochPreferenceThreshold {
		return e.progressSeries
	}
	return e.epochSeries
}

// ShouldRefit reports whether enough new samples have accumulated since
// the last fit to justify refitting, per spec.md 4.2.
func (e *Endpoint) ShouldRefit() bool {
	return e.samplesInLastModel+powerlimits.RefitGap <= e.activeSeries().Len()
}

// Refit retrains the runtime model from the active series. A failed fit
// (ErrInsufficientSamples, ErrInvalidFit) sets the model to absent rather
// than propagating, per the ModelError handling in spec.md 7.
func (e *Endpoint) Refit() {
	active := e.activeSeries()
	caps, durations := active.CapsAndDurations()

	m, err := runtimemodel.Fit(caps, durations)
	if err != nil {
		e.model = nil
		e.samplesInLastModel = active.Len()
		return
	}
	e.model = m
	e.samplesInLastModel = active.Len()
}

// CapAtSlowdown resolves the effective model per spec.md 4.3's
// pre-characterization override rule and returns its capAtSlowdown(s),
// or the global heuristic fallback if no model is available at all.
func (e *Endpoint) CapAtSlowdown(s float64) float64 {
	m := e.effectiveModel()
	if m == nil {
		return runtimemodel.FallbackCapAtSlowdown(s)
	}
	return m.CapAtSlowdown(s)
}

// HasModel reports whether any model (online or static) is available.
func (e *Endpoint) HasModel() bool {
	return e.effectiveModel() != nil
}

func (e *Endpoint) effectiveModel() *runtimemodel.Model {
	if e.ignoreRunTimeModels {
		return e.staticModel
	}
	if e.model != nil {
		return e.model
	}
	if e.usePreCharacterized {
		return e.staticModel
	}
	return nil
}
