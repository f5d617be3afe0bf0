// Package models defines the wire-level and shared value types used across
// the coordinator: per-tick samples, trace rows, and event-bus payloads.
package models

import "time"

// Sample is one per-tick record reported by a job's endpoint session,
// decoded from the seven comma-separated wire fields in protocolio.
type Sample struct {
	MeasuredPower    float64
	EpochCount       float64
	EpochCap         float64
	EpochDuration    float64
	Progress         float64
	ProgressCap      float64
	ProgressDuration float64
}

// Handshake is the three-line inbound handshake record.
type Handshake struct {
	HostCount    int
	InitialPower float64
	Profile      string
}

// TraceRecord is one row of the C8 trace sink: one per rebalance round.
type TraceRecord struct {
	Timestamp time.Time
	Target    float64
	Cap       float64
	Measured  float64
}

// RebalanceEvent is published to the event bus once per generation.
type RebalanceEvent struct {
	Generation      uint64    `json:"generation"`
	Timestamp       time.Time `json:"timestamp"`
	ClusterCap      float64   `json:"cluster_cap"`
	TotalCap        float64   `json:"total_cap"`
	TotalMeasured   float64   `json:"total_measured"`
	ActiveEndpoints int       `json:"active_endpoints"`
	TargetSlowdown  float64   `json:"target_slowdown,omitempty"`
}

// JobLaunchEvent is published for every job the scheduler dispatches, in
// place of the original's direct sbatch subprocess call.
type JobLaunchEvent struct {
	LauncherPath string    `json:"launcher_path"`
	JobTypeID    int       `json:"job_type_id"`
	JobTypeName  string    `json:"job_type_name"`
	Nodes        int       `json:"nodes"`
	DispatchedAt time.Time `json:"dispatched_at"`
}
