// Package config loads and parses the coordinator's configuration surface:
// CLI flags, the YAML app-characterization table, and the CSV job/power
// trace files.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Options is the parsed CLI surface from spec.md 6, fed into koanf as the
// flag-default layer and then overridden by environment variables.
type Options struct {
	NoCrossJobSharing bool
	AveragePowerTarget float64
	Reserve            float64
	ReplayJobTrace     string
	JobNames           []string
	JobWeights         []float64
	ReplayStartTime    bool
	UsePreCharacterized bool
	IgnoreRunTimeModels bool
	ConfuseJobs         map[string]string
	AppInfoPath         string
	ArchiveDSN          string
	Port                int
	TraceFilePath       string
	PowerTraceFile      string
}

// ParseCLI parses the coordinator's flag set from argv (excluding the
// program name). It never touches os.Args directly so callers (and tests)
// can feed it an arbitrary argument list.
func ParseCLI(argv []string) (*Options, error) {
	fs := flag.NewFlagSet("power-coordinator", flag.ContinueOnError)

	noCrossJobSharing := fs.Bool("no-cross-job-sharing", false,
		"force equal per-host distribution of budget, disabling slowdown balancing")
	averagePowerTarget := fs.Float64("average-power-target", 0,
		"override P, the cluster-total average power target in watts")
	reserve := fs.Float64("reserve", 0,
		"override R, the cluster-total sweep amplitude in watts")
	replayJobTrace := fs.String("replay-job-trace", "",
		"CSV path of jobTypeID,startTime,queueTime,jobID rows to replay")
	jobNames := fs.String("job-names", "",
		"comma-separated job type names, indexed by jobTypeID")
	jobWeights := fs.String("job-weights", "",
		"comma-separated per-type weights, clipped at 0")
	replayStartTime := fs.Bool("replay-start-time", false,
		"dispatch jobs at their recorded startTime instead of weighted queueing")
	usePreCharacterized := fs.Bool("use-pre-characterized", false,
		"consult the static model table before online models")
	ignoreRunTimeModels := fs.Bool("ignore-run-time-models", false,
		"always use pre-characterized models, never online fits")
	confuseJobs := fs.String("confuse-jobs", "",
		"space-separated A=B pairs assigning job type A the model of job type B")
	appInfoPath := fs.String("app-info", "",
		"YAML file of applications with launcher, nodes, model{A,C}, min_time")
	archiveDSN := fs.String("archive-dsn", "",
		"optional postgres DSN mirroring the trace sink for durable archival")
	port := fs.Int("port", 63094, "TCP port the coordinator listens on")
	traceFile := fs.String("trace-file", "cluster_power_trace.csv",
		"path of the append-only CSV trace sink")
	powerTraceFile := fs.String("power-trace-file", "",
		"CSV of normalized [-1,1] cluster power targets; selects trace-replay budget generation over the default triangular sweep")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	names := splitNonEmpty(*jobNames, ",")

	weights, err := parseWeights(*jobWeights)
	if err != nil {
		return nil, err
	}

	confusions, err := parseConfusions(*confuseJobs)
	if err != nil {
		return nil, err
	}

	return &Options{
		NoCrossJobSharing:   *noCrossJobSharing,
		AveragePowerTarget:  *averagePowerTarget,
		Reserve:             *reserve,
		ReplayJobTrace:      *replayJobTrace,
		JobNames:            names,
		JobWeights:          weights,
		ReplayStartTime:     *replayStartTime,
		UsePreCharacterized: *usePreCharacterized,
		IgnoreRunTimeModels: *ignoreRunTimeModels,
		ConfuseJobs:         confusions,
		AppInfoPath:         *appInfoPath,
		ArchiveDSN:          *archiveDSN,
		Port:                *port,
		TraceFilePath:       *traceFile,
		PowerTraceFile:      *powerTraceFile,
	}, nil
}

// Defaults renders o as a flat map suitable for koanf's confmap provider,
// giving every flag a stable dotted key regardless of how it was spelled
// on the command line.
func (o *Options) Defaults() map[string]any {
	return map[string]any{
		"rebalance.no_cross_job_sharing":  o.NoCrossJobSharing,
		"budget.average_power_target":     o.AveragePowerTarget,
		"budget.reserve":                  o.Reserve,
		"scheduler.replay_job_trace":      o.ReplayJobTrace,
		"scheduler.replay_start_time":     o.ReplayStartTime,
		"model.use_pre_characterized":     o.UsePreCharacterized,
		"model.ignore_run_time_models":    o.IgnoreRunTimeModels,
		"appinfo.path":                    o.AppInfoPath,
		"archive.dsn":                     o.ArchiveDSN,
		"server.port":                     o.Port,
		"trace.file_path":                 o.TraceFilePath,
		"budget.power_trace_file":         o.PowerTraceFile,
	}
}

func splitNonEmpty(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseWeights(s string) ([]float64, error) {
	raw := splitNonEmpty(s, ",")
	if raw == nil {
		return nil, nil
	}
	out := make([]float64, 0, len(raw))
	for _, r := range raw {
		w, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid job weight %q: %w", r, err)
		}
		if w < 0 {
			w = 0
		}
		out = append(out, w)
	}
	return out, nil
}

func parseConfusions(s string) (map[string]string, error) {
	pairs := splitNonEmpty(s, " ")
	if pairs == nil {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("config: invalid confuse-jobs pair %q, want A=B", pair)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}
