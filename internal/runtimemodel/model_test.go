package runtimemodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterops/powerbalance/internal/powerlimits"
)

func TestFit_RecoversKnownLinearRelationship(t *testing.T) {
	const wantA, wantC = 0.02, 5.0

	var caps, durations []float64
	for p := powerlimits.PowerMin; p <= powerlimits.PowerMax; p += 10 {
		d := powerlimits.PowerMax - p
		caps = append(caps, p)
		durations = append(durations, wantA*d*d+wantC)
	}

	m, err := Fit(caps, durations)
	require.NoError(t, err)
	assert.InDelta(t, wantA, m.A, 1e-6)
	assert.InDelta(t, wantC, m.C, 1e-6)
}

func TestFit_RejectsTooFewSamples(t *testing.T) {
	_, err := Fit([]float64{200}, []float64{10})
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestFit_ProjectsNegativeSlopeToFlatFit(t *testing.T) {
	// Duration rising with cap implies a negative unconstrained slope; the
	// non-negative projection falls back to a flat (A=0) fit rather than
	// rejecting, since a constant model is still valid (non-increasing).
	caps := []float64{140, 160, 180, 200, 220, 240, 260, 280}
	durations := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	m, err := Fit(caps, durations)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.A)
}

func TestModel_IsValidRejectsNonFiniteCoefficients(t *testing.T) {
	m := &Model{A: math.NaN(), C: 1.0}
	assert.False(t, m.isValid())
}

func TestModel_TimeAtCapAndCapAtTimeRoundTrip(t *testing.T) {
	m := &Model{A: 0.01, C: 2.0}
	const p = 220.0
	d := m.TimeAtCap(p)
	gotP := m.CapAtTime(d)
	assert.InDelta(t, p, gotP, 1e-6)
}

func TestModel_CapAtSlowdownClampsToHardwareBounds(t *testing.T) {
	m := &Model{A: 0.01, C: 2.0}
	assert.Equal(t, powerlimits.PowerMax, m.CapAtSlowdown(1.0))
	assert.GreaterOrEqual(t, m.CapAtSlowdown(4.0), powerlimits.PowerMin)
}

func TestModel_CapAtSlowdownFallsBackToMinDurationWhenT0NonPositive(t *testing.T) {
	m := &Model{A: 0, C: 0, minDuration: 3.0}
	got := m.CapAtSlowdown(2.0)
	assert.Equal(t, powerlimits.PowerMin, got)
}

func TestFallbackCapAtSlowdown(t *testing.T) {
	got := FallbackCapAtSlowdown(1.0)
	want := (powerlimits.PowerMax + powerlimits.PowerMin) / 2
	assert.InDelta(t, want, got, 1e-9)
}
