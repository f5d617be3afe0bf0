// Package scheduler implements the optional job scheduler (C7): launching
// queued jobs from a replay trace once ready-host headroom permits,
// described in spec.md 4.7.
package scheduler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/clusterops/powerbalance/internal/powerlimits"
)

// QueuedJob is one not-yet-launched job from the replay trace.
type QueuedJob struct {
	JobID     string
	JobTypeID int
	StartTime float64
	QueueTime float64
	Nodes     int
}

// Launch is one dispatch decision: the job to launch and the hosts it
// will occupy before its handshake arrives.
type Launch struct {
	Job   QueuedJob
	Nodes int
}

// reservation is one outstanding ReserveHosts call, aged so a launch
// whose handshake never arrives doesn't permanently starve headroom.
type reservation struct {
	nodes      int
	reservedAt float64
}

// Scheduler tracks the replay queue and the pendingNewHosts reservation
// described in spec.md 4.7.
type Scheduler struct {
	queue           []QueuedJob
	weights         map[int]float64
	replayStartTime bool
	pendingNewHosts int
	reservations    []reservation
	rng             *rand.Rand
	onExpire        func(nodes int)
}

// New builds a scheduler over the given queue (already loaded from the
// replay-job-trace CSV) and per-jobTypeID weights (may be nil/empty,
// meaning equal weighting in WFQ mode).
func New(queue []QueuedJob, weights map[int]float64, replayStartTime bool, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Scheduler{queue: queue, weights: weights, replayStartTime: replayStartTime, rng: rng}
}

// OnExpire registers a callback fired once per reservation reclaimed by
// the launch-grace reaper, so the caller can log the stuck launch.
func (s *Scheduler) OnExpire(fn func(nodes int)) { s.onExpire = fn }

// ReserveHosts records that hostCount hosts have been committed to
// launching jobs whose handshake hasn't arrived yet, at elapsedSeconds
// into the experiment.
func (s *Scheduler) ReserveHosts(n int, elapsedSeconds float64) {
	s.pendingNewHosts += n
	s.reservations = append(s.reservations, reservation{nodes: n, reservedAt: elapsedSeconds})
}

// ReleaseHosts is called when a reserved session's handshake arrives,
// preventing double-booking per spec.md 4.7. It releases against the
// oldest outstanding reservations first.
func (s *Scheduler) ReleaseHosts(n int) {
	s.pendingNewHosts -= n
	if s.pendingNewHosts < 0 {
		s.pendingNewHosts = 0
	}
	remaining := n
	for remaining > 0 && len(s.reservations) > 0 {
		if s.reservations[0].nodes > remaining {
			s.reservations[0].nodes -= remaining
			remaining = 0
			break
		}
		remaining -= s.reservations[0].nodes
		s.reservations = s.reservations[1:]
	}
}

// ReapExpired reclaims any reservation older than
// powerlimits.SchedulerLaunchGrace whose handshake never arrived,
// invoking the OnExpire callback once per reclaimed reservation.
func (s *Scheduler) ReapExpired(elapsedSeconds, graceSeconds float64) {
	kept := s.reservations[:0]
	for _, r := range s.reservations {
		if elapsedSeconds-r.reservedAt > graceSeconds {
			s.pendingNewHosts -= r.nodes
			if s.pendingNewHosts < 0 {
				s.pendingNewHosts = 0
			}
			if s.onExpire != nil {
				s.onExpire(r.nodes)
			}
			continue
		}
		kept = append(kept, r)
	}
	s.reservations = kept
}

// PendingNewHosts reports the current reservation.
func (s *Scheduler) PendingNewHosts() int { return s.pendingNewHosts }

// Dispatch computes which queued jobs to launch now, given the current
// cluster cap, active host count, and elapsed experiment time. It
// mutates the internal queue, removing dispatched jobs, and reserves
// their hosts via ReserveHosts.
func (s *Scheduler) Dispatch(clusterCap float64, activeHosts int, totalNodes int, elapsedSeconds float64) []Launch {
	s.ReapExpired(elapsedSeconds, powerlimits.SchedulerLaunchGrace.Seconds())

	readyHosts := int(math.Ceil(clusterCap/powerlimits.PowerMax)) - activeHosts
	if readyHosts <= 0 {
		return nil
	}

	ready := s.readyJobs(elapsedSeconds)
	if len(ready) == 0 {
		return nil
	}

	var launches []Launch
	if s.replayStartTime {
		launches = s.dispatchReplayStartTime(ready, readyHosts)
	} else {
		launches = s.dispatchWeightedFairQueue(ready, readyHosts)
	}

	for _, l := range launches {
		s.removeFromQueue(l.Job.JobID)
		s.ReserveHosts(l.Nodes, elapsedSeconds)
	}
	return launches
}

func (s *Scheduler) readyJobs(elapsedSeconds float64) []QueuedJob {
	var out []QueuedJob
	for _, j := range s.queue {
		if j.StartTime <= elapsedSeconds {
			out = append(out, j)
		}
	}
	return out
}

func (s *Scheduler) removeFromQueue(jobID string) {
	for i, j := range s.queue {
		if j.JobID == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// dispatchReplayStartTime implements spec.md 4.7's first discipline:
// ascending startTime, launching each whose size fits in the free hosts
// minus the existing reservation.
func (s *Scheduler) dispatchReplayStartTime(ready []QueuedJob, readyHosts int) []Launch {
	sorted := make([]QueuedJob, len(ready))
	copy(sorted, ready)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })

	free := readyHosts - s.pendingNewHosts
	var launches []Launch
	for _, j := range sorted {
		if j.Nodes > 0 && j.Nodes <= free {
			launches = append(launches, Launch{Job: j, Nodes: j.Nodes})
			free -= j.Nodes
		}
	}
	return launches
}

// dispatchWeightedFairQueue implements spec.md 4.7's second discipline:
// group by jobTypeID, allocate hosts proportionally to configured
// weights (renormalized over types with a nonempty queue), randomly
// redistribute any rounding surplus, then dispatch FIFO within type.
func (s *Scheduler) dispatchWeightedFairQueue(ready []QueuedJob, readyHosts int) []Launch {
	byType := make(map[int][]QueuedJob)
	var typeOrder []int
	for _, j := range ready {
		if _, ok := byType[j.JobTypeID]; !ok {
			typeOrder = append(typeOrder, j.JobTypeID)
		}
		byType[j.JobTypeID] = append(byType[j.JobTypeID], j)
	}
	for _, jobs := range byType {
		sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].QueueTime < jobs[j].QueueTime })
	}

	totalWeight := 0.0
	weightOf := make(map[int]float64, len(typeOrder))
	for _, t := range typeOrder {
		w, configured := s.weights[t]
		if !configured {
			w = 1 // equal weighting when unconfigured
		}
		weightOf[t] = w
		totalWeight += w
	}
	if totalWeight <= 0 {
		return nil
	}

	hostsForType := make(map[int]int, len(typeOrder))
	allocated := 0
	for _, t := range typeOrder {
		n := int(math.Round(float64(readyHosts) * weightOf[t] / totalWeight))
		hostsForType[t] = n
		allocated += n
	}

	// Redistribute the rounding surplus/deficit randomly across types,
	// matching the original's np.random.randint behavior but guarding the
	// zero-surplus case (spec.md Design Notes flags a division-by-zero
	// bug in the original when readyHosts rounds exactly).
	surplus := readyHosts - allocated
	if surplus != 0 && len(typeOrder) > 0 {
		step := 1
		if surplus < 0 {
			step = -1
		}
		for i := 0; i < surplus*step; i++ {
			t := typeOrder[s.rng.Intn(len(typeOrder))]
			hostsForType[t] += step
			if hostsForType[t] < 0 {
				hostsForType[t] = 0
			}
		}
	}

	var launches []Launch
	for _, t := range typeOrder {
		jobs := byType[t]
		hosts := hostsForType[t]
		for _, j := range jobs {
			if j.Nodes <= 0 || j.Nodes > hosts {
				continue
			}
			launches = append(launches, Launch{Job: j, Nodes: j.Nodes})
			hosts -= j.Nodes
		}
	}
	return launches
}
