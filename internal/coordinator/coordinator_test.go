package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterops/powerbalance/internal/budget"
	"github.com/clusterops/powerbalance/internal/powerlimits"
	"github.com/clusterops/powerbalance/pkg/models"
)

func newTestState(t *testing.T, totalNodes int, noCrossJobSharing bool) *ClusterState {
	t.Helper()
	logger := zerolog.Nop()
	budgetGen := budget.NewTriangularSweep(0, 0, totalNodes, time.Now())
	return New(Options{
		TotalNodes:        totalNodes,
		NoCrossJobSharing: noCrossJobSharing,
		ExperimentStart:   time.Now(),
	}, budgetGen, nil, nil, nil, nil, nil, &logger)
}

// S1: a single client idling at its cap receives a cap within hardware
// bounds after its first sample enters the barrier.
func TestClusterState_SingleClientIdleBudget(t *testing.T) {
	cs := newTestState(t, 4, false)
	_, initialCap := cs.Register("a", models.Handshake{HostCount: 4, Profile: "p"})
	assert.Equal(t, powerlimits.PowerMax, initialCap)

	cap, ok := cs.Sample(context.Background(), "a", models.Sample{
		MeasuredPower: 200, EpochCount: 1, EpochCap: 200, EpochDuration: 10,
		Progress: 1, ProgressCap: 200, ProgressDuration: 10,
	})
	require.True(t, ok)
	assert.GreaterOrEqual(t, cap, powerlimits.PowerMin)
	assert.LessOrEqual(t, cap, powerlimits.PowerMax)
}

// S2: two identically-behaved clients under --no-cross-job-sharing split
// the per-node budget equally.
func TestClusterState_TwoClientsEqualSplitNoCrossJobSharing(t *testing.T) {
	cs := newTestState(t, 8, true)
	cs.Register("a", models.Handshake{HostCount: 4, Profile: "p"})
	cs.Register("b", models.Handshake{HostCount: 4, Profile: "p"})

	done := make(chan float64, 1)
	go func() {
		cap, ok := cs.Sample(context.Background(), "a", models.Sample{
			MeasuredPower: 200, EpochCount: 1, EpochCap: 200, EpochDuration: 10,
			Progress: 1, ProgressCap: 200, ProgressDuration: 10,
		})
		require.True(t, ok)
		done <- cap
	}()

	capB, ok := cs.Sample(context.Background(), "b", models.Sample{
		MeasuredPower: 200, EpochCount: 1, EpochCap: 200, EpochDuration: 10,
		Progress: 1, ProgressCap: 200, ProgressDuration: 10,
	})
	require.True(t, ok)
	capA := <-done

	assert.InDelta(t, capA, capB, 1e-9)
}

// Removing an endpoint that completes the generation must fire the
// rebalance itself rather than deadlock the caller.
func TestClusterState_RemoveFiresTeardownWithoutDeadlock(t *testing.T) {
	cs := newTestState(t, 4, false)
	cs.Register("a", models.Handshake{HostCount: 4, Profile: "p"})

	done := make(chan struct{})
	go func() {
		cs.Remove(context.Background(), "a")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Remove did not return: barrier teardown deadlocked")
	}
	assert.Equal(t, 0, cs.ActiveCount())
}

// A sample for an endpoint already removed from the map (e.g. a
// concurrent teardown mid-generation) must report ok=false rather than
// panic on a nil endpoint.
func TestClusterState_SampleForRemovedEndpointReportsNotOK(t *testing.T) {
	cs := newTestState(t, 4, false)
	cs.Register("a", models.Handshake{HostCount: 4, Profile: "p"})
	cs.Remove(context.Background(), "a")

	_, ok := cs.Sample(context.Background(), "a", models.Sample{
		MeasuredPower: 200, EpochCount: 1, EpochCap: 200, EpochDuration: 10,
		Progress: 1, ProgressCap: 200, ProgressDuration: 10,
	})
	assert.False(t, ok)
}

func TestOptions_JobTypeNameFallsBackToNumericID(t *testing.T) {
	o := Options{JobNames: []string{"alpha", "beta"}}
	assert.Equal(t, "alpha", o.jobTypeName(0))
	assert.Equal(t, "beta", o.jobTypeName(1))
	assert.Equal(t, "type-2", o.jobTypeName(2))
	assert.Equal(t, "type--1", o.jobTypeName(-1))
}
