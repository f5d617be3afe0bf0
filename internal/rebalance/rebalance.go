// Package rebalance implements the balanced-slowdown power allocation
// algorithm (C4): a pure function from a cluster power budget and a
// snapshot of running endpoints to a set of per-endpoint power caps.
package rebalance

import (
	"github.com/clusterops/powerbalance/internal/powerlimits"
)

// Target is one endpoint's allocation inputs and outputs: hostCount and
// a capAtSlowdown predictor on the way in, CurrentCap mutated in place
// on the way out. Ordering of the slice is the tie-break order (spec.md
// 4.4: "numeric ties resolve by insertion order of endpoints").
type Target struct {
	HostCount     int
	CurrentCap    float64
	CapAtSlowdown func(s float64) float64
}

// Allocate mutates each target's CurrentCap in place per spec.md 4.4. It
// is a pure function of clusterCap, totalNodes, noCrossJobSharing, and
// the targets slice: no package-level state, safe to call from within a
// bookkeeping-mutex critical section.
func Allocate(clusterCap float64, totalNodes int, noCrossJobSharing bool, targets []Target) {
	if len(targets) == 0 {
		return
	}

	activeHosts := 0
	for _, tg := range targets {
		activeHosts += tg.HostCount
	}
	idleHosts := totalNodes - activeHosts
	if idleHosts < 0 {
		idleHosts = 0
	}
	idlePower := float64(idleHosts) * powerlimits.IdleWattsPerNode
	budget := clusterCap - idlePower

	for i := range targets {
		targets[i].CurrentCap = powerlimits.PowerMin
	}
	unallocated := budget - float64(activeHosts)*powerlimits.PowerMin

	if noCrossJobSharing {
		distributeEqually(targets, activeHosts, unallocated)
		return
	}

	sStar := solveBalancedSlowdown(clusterCap, idlePower, activeHosts, targets)
	iterativeFill(targets, sStar, unallocated)
}

func distributeEqually(targets []Target, activeHosts int, unallocated float64) {
	if activeHosts == 0 {
		return
	}
	perHost := unallocated / float64(activeHosts)
	for i := range targets {
		targets[i].CurrentCap = powerlimits.Clamp(targets[i].CurrentCap + perHost)
	}
}

// solveBalancedSlowdown finds s* such that deficit(s*) = 0 by bisection
// on [SlowdownLowerBound, SlowdownUpperBound], per spec.md 4.4 step 4.
func solveBalancedSlowdown(clusterCap, idlePower float64, activeHosts int, targets []Target) float64 {
	deficit := func(s float64) float64 {
		sum := 0.0
		for _, tg := range targets {
			sum += float64(tg.HostCount) * tg.CapAtSlowdown(s)
		}
		return sum + idlePower - clusterCap
	}

	lo, hi := powerlimits.SlowdownLowerBound, powerlimits.SlowdownUpperBound
	dLo, dHi := deficit(lo), deficit(hi)

	if (dLo > 0) == (dHi > 0) {
		// No sign change: fall back to the linear estimate.
		denom := clusterCap - idlePower
		if denom == 0 {
			return powerlimits.SlowdownUpperBound
		}
		s := powerlimits.PowerMax * float64(activeHosts) / denom
		return clampSlowdown(s)
	}

	const iterations = 40
	for i := 0; i < iterations; i++ {
		mid := (lo + hi) / 2
		dMid := deficit(mid)
		if (dMid > 0) == (dLo > 0) {
			lo, dLo = mid, dMid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func clampSlowdown(s float64) float64 {
	if s < powerlimits.SlowdownLowerBound {
		return powerlimits.SlowdownLowerBound
	}
	if s > powerlimits.SlowdownUpperBound {
		return powerlimits.SlowdownUpperBound
	}
	return s
}

// iterativeFill runs the proportional-fill loop described in spec.md 4.4
// step 5, mutating each target's CurrentCap in place.
func iterativeFill(targets []Target, sStar float64, unallocated float64) {
	activeHosts := 0
	for _, tg := range targets {
		activeHosts += tg.HostCount
	}

	for iter := 0; iter < powerlimits.RebalanceFillIterations; iter++ {
		if unallocated < powerlimits.RebalanceUnallocatedFloor {
			return
		}

		needs := make([]float64, len(targets))
		headrooms := make([]float64, len(targets))
		totalNeed, totalHeadroom := 0.0, 0.0
		for i, tg := range targets {
			want := tg.CapAtSlowdown(sStar)
			need := float64(tg.HostCount) * max(0.0, want-targets[i].CurrentCap)
			headroom := float64(tg.HostCount) * (powerlimits.PowerMax - targets[i].CurrentCap)
			needs[i] = need
			headrooms[i] = headroom
			totalNeed += need
			totalHeadroom += headroom
		}

		if totalHeadroom <= 0 {
			return
		}

		useNeed := totalNeed > 5*float64(activeHosts) && iter < 5
		weights := headrooms
		totalWeight := totalHeadroom
		if useNeed && totalNeed > 0 {
			weights = needs
			totalWeight = totalNeed
		}

		refund := 0.0
		for i := range targets {
			if totalWeight <= 0 {
				continue
			}
			share := unallocated * (weights[i] / totalWeight)
			newCap := targets[i].CurrentCap + share
			if newCap > powerlimits.PowerMax {
				refund += newCap - powerlimits.PowerMax
				newCap = powerlimits.PowerMax
			}
			targets[i].CurrentCap = newCap
		}
		unallocated = refund
	}
}
