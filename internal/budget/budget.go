// Package budget implements the cluster power budget generator (C6):
// either a triangular sweep or a replay of a recorded normalized power
// trace, described in spec.md 4.6.
package budget

import (
	"math"
	"time"

	"github.com/clusterops/powerbalance/internal/powerlimits"
)

// Generator produces averageTargetPerNode, rate-limited to at most one
// step per wall second.
type Generator struct {
	p, r       float64
	totalNodes int

	averageTargetPerNode float64
	lastUpdate           time.Time
	start                time.Time

	trace []float64 // nil unless in trace-replay mode

	sweepStep     float64
	sweepAscendng bool
}

// NewTriangularSweep builds a generator oscillating averageTargetPerNode
// between P/N-R/N and P/N+R/N at 10 W/node per update. p and r are the
// cluster-total mean and reserve; zero values fall back to the spec's
// defaults derived from totalNodes.
func NewTriangularSweep(p, r float64, totalNodes int, start time.Time) *Generator {
	if p == 0 {
		p = (powerlimits.PowerMin + powerlimits.PowerMax) / 2 * float64(totalNodes)
	}
	if r == 0 {
		r = (powerlimits.PowerMax - powerlimits.PowerMin) / 2 * float64(totalNodes)
	}
	g := &Generator{
		p: p, r: r, totalNodes: totalNodes,
		start:         start,
		sweepStep:     10,
		sweepAscendng: true,
	}
	g.averageTargetPerNode = p / float64(totalNodes)
	return g
}

// NewTraceReplay builds a generator that replays a normalized [-1, 1]
// power trace: sample index = secondsSinceStart // 4 (clamped to the last
// element), mapped to (x*R + P) / totalNodes.
func NewTraceReplay(trace []float64, p, r float64, totalNodes int, start time.Time) *Generator {
	if p == 0 {
		p = (powerlimits.PowerMin + powerlimits.PowerMax) / 2 * float64(totalNodes)
	}
	if r == 0 {
		r = (powerlimits.PowerMax - powerlimits.PowerMin) / 2 * float64(totalNodes)
	}
	g := &Generator{p: p, r: r, totalNodes: totalNodes, start: start, trace: trace}
	g.averageTargetPerNode = g.sampleTrace(0)
	return g
}

// Update advances the generator if at least one wall second has passed
// since the last step, and returns the current (possibly just-updated)
// averageTargetPerNode and clusterCap.
func (g *Generator) Update(now time.Time) (averageTargetPerNode, clusterCap float64) {
	if g.lastUpdate.IsZero() || now.Sub(g.lastUpdate) >= time.Second {
		if g.trace != nil {
			g.averageTargetPerNode = g.sampleTrace(now.Sub(g.start).Seconds())
		} else {
			g.stepSweep()
		}
		g.lastUpdate = now
	}
	return g.averageTargetPerNode, g.averageTargetPerNode * float64(g.totalNodes)
}

func (g *Generator) sampleTrace(secondsSinceStart float64) float64 {
	if len(g.trace) == 0 {
		return g.p / float64(g.totalNodes)
	}
	index := int(math.Floor(secondsSinceStart / 4))
	if index < 0 {
		index = 0
	}
	if index >= len(g.trace) {
		index = len(g.trace) - 1
	}
	x := g.trace[index]
	return (x*g.r + g.p) / float64(g.totalNodes)
}

func (g *Generator) stepSweep() {
	lo := (g.p - g.r) / float64(g.totalNodes)
	hi := (g.p + g.r) / float64(g.totalNodes)
	stepPerNode := g.sweepStep

	if g.sweepAscendng {
		g.averageTargetPerNode += stepPerNode
		if g.averageTargetPerNode >= hi {
			g.averageTargetPerNode = hi
			g.sweepAscendng = false
		}
	} else {
		g.averageTargetPerNode -= stepPerNode
		if g.averageTargetPerNode <= lo {
			g.averageTargetPerNode = lo
			g.sweepAscendng = true
		}
	}
}
