package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriangularSweep_StaysWithinBounds(t *testing.T) {
	start := time.Unix(0, 0)
	g := NewTriangularSweep(0, 0, 8, start)

	lo := (g.p - g.r) / float64(g.totalNodes)
	hi := (g.p + g.r) / float64(g.totalNodes)

	now := start
	for i := 0; i < 200; i++ {
		now = now.Add(time.Second)
		avg, clusterCap := g.Update(now)
		assert.GreaterOrEqual(t, avg, lo-1e-9)
		assert.LessOrEqual(t, avg, hi+1e-9)
		assert.InDelta(t, avg*float64(g.totalNodes), clusterCap, 1e-9)
	}
}

func TestTriangularSweep_RateLimitedToOneStepPerSecond(t *testing.T) {
	start := time.Unix(0, 0)
	g := NewTriangularSweep(0, 0, 8, start)

	first, _ := g.Update(start.Add(time.Second))
	again, _ := g.Update(start.Add(time.Second + 100*time.Millisecond))
	assert.Equal(t, first, again)
}

// TestTraceReplay_VisitsEveryTraceElement reproduces spec.md §8 scenario
// S4's worked example: trace [-1, 0, 1], P=1000, R=400, totalNodes=4
// must produce cluster targets 600, 1000, 1400 at the three successive
// 4-second boundaries, visiting every trace element exactly once rather
// than skipping index 1.
func TestTraceReplay_VisitsEveryTraceElement(t *testing.T) {
	start := time.Unix(0, 0)
	trace := []float64{-1, 0, 1}
	g := NewTraceReplay(trace, 1000, 400, 4, start)

	_, capAt0 := g.Update(start)
	_, capAt4 := g.Update(start.Add(4 * time.Second))
	_, capAt8 := g.Update(start.Add(8 * time.Second))

	assert.InDelta(t, 600.0, capAt0, 1e-9)
	assert.InDelta(t, 1000.0, capAt4, 1e-9)
	assert.InDelta(t, 1400.0, capAt8, 1e-9)
}

func TestTraceReplay_SamplesAtFourSecondGranularity(t *testing.T) {
	start := time.Unix(0, 0)
	trace := []float64{1, -1}
	g := NewTraceReplay(trace, 1000, 500, 8, start)

	avgAt0, _ := g.Update(start)
	avgAt3, _ := g.Update(start.Add(3 * time.Second))
	avgAt4, _ := g.Update(start.Add(4 * time.Second))

	assert.Equal(t, avgAt0, avgAt3)
	assert.NotEqual(t, avgAt3, avgAt4)
}
