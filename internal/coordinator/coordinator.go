// Package coordinator implements ClusterState (spec.md 3): the singleton
// tying together the endpoints map, the tick barrier, the rebalancer, the
// budget generator, the optional scheduler, and the trace/archive/
// eventbus sinks. This is the orchestration layer C2 and C5 drive.
package coordinator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/clusterops/powerbalance/internal/archive"
	"github.com/clusterops/powerbalance/internal/barrier"
	"github.com/clusterops/powerbalance/internal/budget"
	"github.com/clusterops/powerbalance/internal/endpoint"
	"github.com/clusterops/powerbalance/internal/eventbus"
	"github.com/clusterops/powerbalance/internal/metrics"
	"github.com/clusterops/powerbalance/internal/powerlimits"
	"github.com/clusterops/powerbalance/internal/rebalance"
	"github.com/clusterops/powerbalance/internal/scheduler"
	"github.com/clusterops/powerbalance/internal/statuscache"
	"github.com/clusterops/powerbalance/internal/trace"
	"github.com/clusterops/powerbalance/pkg/config"
	"github.com/clusterops/powerbalance/pkg/models"
)

// Options configures a ClusterState at construction time, collecting
// the CLI/appinfo-derived knobs that affect rebalancing and scheduling.
type Options struct {
	TotalNodes          int
	NoCrossJobSharing   bool
	UsePreCharacterized bool
	IgnoreRunTimeModels bool
	AppInfo             config.AppInfo
	ConfuseJobs         map[string]string
	ExperimentStart     time.Time
	JobNames            []string
}

// jobTypeName resolves a jobTypeID to its configured --job-names entry,
// falling back to the numeric ID when unnamed.
func (o Options) jobTypeName(jobTypeID int) string {
	if jobTypeID >= 0 && jobTypeID < len(o.JobNames) {
		return o.JobNames[jobTypeID]
	}
	return fmt.Sprintf("type-%d", jobTypeID)
}

// ClusterState is the coordinator singleton described in spec.md 3.
type ClusterState struct {
	opts Options

	barrier *barrier.Barrier
	// endpoints is mutated only from inside barrier-locked closures
	// (Grow/Shrink/Arrive's update), per spec.md 5.
	endpoints map[string]*endpoint.Endpoint
	// generation numbers rebalance rounds. It is read and bumped only in
	// rebalanceLocked, under the barrier's mutex, once per barrier
	// generation.
	generation uint64

	budget    *budget.Generator
	scheduler *scheduler.Scheduler
	traceSink *trace.Sink
	archiveM  *archive.Mirror
	status    *statuscache.Cache
	events    *eventbus.Publisher

	logger *zerolog.Logger
}

// New builds a ClusterState. Any of budgetGen, sched, traceSink,
// archiveM, status, events may carry nil optional components.
func New(
	opts Options,
	budgetGen *budget.Generator,
	sched *scheduler.Scheduler,
	traceSink *trace.Sink,
	archiveM *archive.Mirror,
	status *statuscache.Cache,
	events *eventbus.Publisher,
	logger *zerolog.Logger,
) *ClusterState {
	return &ClusterState{
		opts:      opts,
		barrier:   barrier.New(),
		endpoints: make(map[string]*endpoint.Endpoint),
		budget:    budgetGen,
		scheduler: sched,
		traceSink: traceSink,
		archiveM:  archiveM,
		status:    status,
		events:    events,
		logger:    logger,
	}
}

// Register creates an endpoint for a freshly handshaken session and
// grows the barrier's expected count in the same critical section. It
// returns the initial cap (always POWER_MAX, per spec.md 4.2).
func (c *ClusterState) Register(addr string, hs models.Handshake) (*endpoint.Endpoint, float64) {
	_, staticModel, _ := c.opts.AppInfo.ResolveProfile(hs.Profile, c.opts.ConfuseJobs)

	ep := endpoint.New(hs.HostCount, hs.Profile, staticModel, c.opts.UsePreCharacterized, c.opts.IgnoreRunTimeModels)

	c.barrier.Grow(func() {
		c.endpoints[addr] = ep
	})

	if c.scheduler != nil {
		c.scheduler.ReleaseHosts(hs.HostCount)
	}

	metrics.ActiveEndpoints.Inc()
	return ep, powerlimits.PowerMax
}

// Remove tears down addr's endpoint. If its removal completes the
// current generation, it fires the rebalance-and-release itself, per
// spec.md 4.5's deadlock-avoidance rule.
func (c *ClusterState) Remove(ctx context.Context, addr string) {
	mustFire := c.barrier.Shrink(func() {
		delete(c.endpoints, addr)
	})
	metrics.ActiveEndpoints.Dec()

	if mustFire {
		c.barrier.FireTeardown(func() {
			c.rebalanceLocked(ctx)
		})
	}
}

// Sample applies one inbound sample to addr's endpoint, refitting its
// model if warranted, then enters the tick barrier. The barrier release
// is synchronous: Sample does not return until this generation's
// rebalance has been computed and released.
//
// A session whose endpoint has already been torn down (Remove already
// ran) must never enter the barrier: Shrink already decremented expected
// to match arrivals for that departure, so a phantom arrival here could
// never be matched by a phantom expected slot, and the generation would
// never advance again, per spec.md 4.5.
func (c *ClusterState) Sample(ctx context.Context, addr string, s models.Sample) (cap float64, ok bool) {
	var present bool
	c.barrier.WithLock(func() {
		_, present = c.endpoints[addr]
	})
	if !present {
		return 0, false
	}

	c.barrier.Arrive(
		func() {
			ep, present := c.endpoints[addr]
			if !present {
				return
			}
			ep.ApplySample(s.MeasuredPower, s.EpochCount, s.EpochCap, s.EpochDuration, s.Progress, s.ProgressCap, s.ProgressDuration)
			if ep.ShouldRefit() {
				ep.Refit()
			}
		},
		func() {
			c.rebalanceLocked(ctx)
		},
	)

	ep, present := c.endpoints[addr]
	if !present {
		return 0, false
	}
	return ep.CurrentCap, true
}

// rebalanceLocked runs C4, C7, and C8 for the current generation. It
// MUST be called only from inside a barrier-locked closure (Arrive's
// fire, or FireTeardown): it reads c.endpoints without any additional
// locking, relying on the barrier's mutex for exclusion.
func (c *ClusterState) rebalanceLocked(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RebalanceDuration.Observe(time.Since(start).Seconds()) }()

	now := time.Now()
	_, clusterCap := c.budget.Update(now)

	addrs := make([]string, 0, len(c.endpoints))
	for addr := range c.endpoints {
		addrs = append(addrs, addr)
	}
	// Deterministic insertion order isn't preserved by Go map iteration;
	// rebalance.Allocate's tie-break only matters relative to a single
	// generation's targets slice, so any fixed order for this call is
	// sufficient as long as it's derived once, up front.
	targets := make([]rebalance.Target, len(addrs))
	eps := make([]*endpoint.Endpoint, len(addrs))
	for i, addr := range addrs {
		ep := c.endpoints[addr]
		eps[i] = ep
		targets[i] = rebalance.Target{
			HostCount:     ep.HostCount,
			CurrentCap:    ep.CurrentCap,
			CapAtSlowdown: ep.CapAtSlowdown,
		}
	}

	rebalance.Allocate(clusterCap, c.opts.TotalNodes, c.opts.NoCrossJobSharing, targets)

	totalMeasured := 0.0
	totalCap := 0.0
	activeHosts := 0
	for i, ep := range eps {
		ep.CurrentCap = targets[i].CurrentCap
		totalCap += ep.CurrentCap * float64(ep.HostCount)
		// Summed unconditionally, matching balance_server.py's
		// sum(... get_total_measured_power() ...): a NaN endpoint (no
		// sample yet) poisons the round's measured total rather than
		// being silently excluded.
		totalMeasured += ep.MeasuredPower * float64(ep.HostCount)
		activeHosts += ep.HostCount
	}
	idleHosts := c.opts.TotalNodes - activeHosts
	if idleHosts < 0 {
		idleHosts = 0
	}
	idlePower := float64(idleHosts) * powerlimits.IdleWattsPerNode
	totalCap += idlePower
	totalMeasured += idlePower

	gen := c.generation
	c.generation++

	if c.scheduler != nil {
		launches := c.scheduler.Dispatch(clusterCap, activeHosts, c.opts.TotalNodes, time.Since(c.opts.ExperimentStart).Seconds())
		for _, l := range launches {
			metrics.JobsLaunchedTotal.Inc()
			c.events.PublishJobLaunch(ctx, models.JobLaunchEvent{
				JobTypeID:    l.Job.JobTypeID,
				JobTypeName:  c.opts.jobTypeName(l.Job.JobTypeID),
				Nodes:        l.Nodes,
				DispatchedAt: now,
			})
		}
	}

	if c.traceSink != nil {
		c.traceSink.Append(now, clusterCap, totalCap, totalMeasured)
	}
	if c.archiveM != nil {
		c.archiveM.Insert(ctx, now, clusterCap, totalCap, totalMeasured)
	}
	if c.status != nil {
		_ = c.status.Append(statuscache.Row{Timestamp: now, Target: clusterCap, Cap: totalCap, Measured: totalMeasured})
	}

	metrics.ClusterCapWatts.Set(clusterCap)
	metrics.ClusterMeasuredWatts.Set(totalMeasured)
	metrics.RebalanceGeneration.Set(float64(gen))
	metrics.RebalancesTotal.Inc()

	c.events.PublishRebalance(ctx, models.RebalanceEvent{
		Generation:      gen,
		Timestamp:       now,
		ClusterCap:      clusterCap,
		TotalCap:        totalCap,
		TotalMeasured:   totalMeasured,
		ActiveEndpoints: len(eps),
	})
}

// ActiveCount returns the number of live endpoints, for status reporting.
func (c *ClusterState) ActiveCount() int {
	var n int
	c.barrier.WithLock(func() { n = len(c.endpoints) })
	return n
}

// NewRNG is a small helper so cmd/coordinator doesn't need a direct
// math/rand import just to seed the scheduler.
func NewRNG(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }
