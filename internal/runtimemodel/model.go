// Package runtimemodel implements the per-job online runtime model: a
// one-variable non-negative least-squares fit of duration against power
// cap, plus the prediction contract the rebalancer drives against.
//
// The original used scikit-learn's RANSACRegressor/LinearRegression with a
// hand-rolled positivity check. Design Notes in spec.md explicitly call for
// dropping the ML-framework dependency: this is a closed-form two-variable
// regression, not a general-purpose solver.
package runtimemodel

import (
	"errors"
	"math"

	"github.com/clusterops/powerbalance/internal/powerlimits"
)

// ErrInsufficientSamples is returned by Fit when fewer than two samples are
// given; a single point cannot determine both A and C.
var ErrInsufficientSamples = errors.New("runtimemodel: at least two samples are required")

// ErrInvalidFit is returned when the fitted coefficients are non-finite or
// fail the monotonicity check.
var ErrInvalidFit = errors.New("runtimemodel: fit rejected (non-finite or non-monotone)")

// Model is t(p) = A*(PowerMax-p)^2 + C, with A, C >= 0.
type Model struct {
	A, C float64
	// minDuration is the smallest observed training duration, used as the
	// capAtSlowdown fallback when TimeAtCap(PowerMax) is non-positive.
	minDuration float64
}

// Fit trains a model from parallel caps/durations slices (the endpoint's
// active series: epoch data once it holds at least
// EpochPreferenceThreshold entries, progress data otherwise). It rejects
// the fit (returning ErrInvalidFit) unless the 8-point monotonicity check
// in spec.md 4.3 passes.
func Fit(caps, durations []float64) (*Model, error) {
	if len(caps) != len(durations) {
		panic("runtimemodel: caps and durations length mismatch")
	}
	if len(caps) < 2 {
		return nil, ErrInsufficientSamples
	}

	var n, sx, sy, sxx, sxy float64
	minDuration := math.Inf(1)
	for i, cap := range caps {
		x := (powerlimits.PowerMax - cap) * (powerlimits.PowerMax - cap)
		y := durations[i]
		n++
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
		if y < minDuration {
			minDuration = y
		}
	}

	a, c := fitNonNegative(n, sx, sy, sxx, sxy)
	m := &Model{A: a, C: c, minDuration: minDuration}

	if !m.isValid() {
		return nil, ErrInvalidFit
	}
	return m, nil
}

// fitNonNegative solves the OLS normal equations for t = A*x + C from the
// sufficient statistics, then projects onto the non-negative orthant using
// the standard two-variable active-set cases: try the unconstrained
// solution, then each single-variable-only fit, keeping the cheapest
// feasible candidate.
func fitNonNegative(n, sx, sy, sxx, sxy float64) (a, c float64) {
	denom := n*sxx - sx*sx
	if denom != 0 {
		a = (n*sxy - sx*sy) / denom
		c = (sxx*sy - sx*sxy) / denom
		if a >= 0 && c >= 0 {
			return a, c
		}
	}

	// A constrained to 0: best constant fit is the mean.
	interceptOnlyC := sy / n
	interceptOnlySSE := sseFor(0, interceptOnlyC, n, sx, sy, sxx, sxy)

	// C constrained to 0: best single-slope fit through the origin.
	var slopeOnlyA float64
	slopeOnlySSE := math.Inf(1)
	if sxx != 0 {
		slopeOnlyA = sxy / sxx
		if slopeOnlyA >= 0 {
			slopeOnlySSE = sseFor(slopeOnlyA, 0, n, sx, sy, sxx, sxy)
		}
	}

	if interceptOnlyC >= 0 && interceptOnlySSE <= slopeOnlySSE {
		return 0, interceptOnlyC
	}
	if slopeOnlySSE < math.Inf(1) {
		return slopeOnlyA, 0
	}
	return 0, math.Max(0, interceptOnlyC)
}

// sseFor computes the sum of squared errors of t=A*x+C against the
// sufficient statistics, without needing the raw samples again.
func sseFor(a, c, n, sx, sy, sxx, sxy float64) float64 {
	// SSE = Syy - 2*A*Sxy - 2*C*Sy + A^2*Sxx + 2*A*C*Sx + C^2*N
	// Syy is unavailable from the stored statistics, but it's a constant
	// term shared by every candidate, so omitting it preserves ordering.
	return -2*a*sxy - 2*c*sy + a*a*sxx + 2*a*c*sx + c*c*n
}

// isValid implements the spec.md 4.3 validity check: sample t(p) at 8
// points uniformly across [0, PowerMax] and require the sequence to be
// monotonically non-increasing, plus finite coefficients.
func (m *Model) isValid() bool {
	if math.IsNaN(m.A) || math.IsInf(m.A, 0) || math.IsNaN(m.C) || math.IsInf(m.C, 0) {
		return false
	}
	if m.A < 0 || m.C < 0 {
		return false
	}

	const points = 8
	prev := math.Inf(1)
	for i := 0; i < points; i++ {
		p := float64(i) / float64(points-1) * powerlimits.PowerMax
		t := m.TimeAtCap(p)
		if t > prev {
			return false
		}
		prev = t
	}
	return true
}

// TimeAtCap predicts epoch/progress duration at a given per-host power cap.
func (m *Model) TimeAtCap(p float64) float64 {
	d := powerlimits.PowerMax - p
	return m.A*d*d + m.C
}

// CapAtTime inverts TimeAtCap: the power cap that is predicted to yield
// duration t.
func (m *Model) CapAtTime(t float64) float64 {
	if m.A == 0 {
		return powerlimits.PowerMin
	}
	arg := (t - m.C) / m.A
	if arg < 0 {
		return powerlimits.PowerMax
	}
	return powerlimits.PowerMax - math.Sqrt(arg)
}

// CapAtSlowdown returns the power cap predicted to produce the given
// slowdown factor s (>= 1), per spec.md 4.3.
func (m *Model) CapAtSlowdown(s float64) float64 {
	t0 := m.TimeAtCap(powerlimits.PowerMax)
	if t0 <= 0 {
		t0 = m.minDuration
	}
	return powerlimits.Clamp(m.CapAtTime(s * t0))
}

// FallbackCapAtSlowdown is the heuristic used when no model (online or
// pre-characterized) is available yet.
func FallbackCapAtSlowdown(s float64) float64 {
	return powerlimits.Clamp((powerlimits.PowerMax/s + powerlimits.PowerMin) / 2)
}
