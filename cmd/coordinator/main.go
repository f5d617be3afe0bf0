// Command coordinator runs the cluster-wide power-budget coordinator:
// it binds the job-facing TCP listener, serves Prometheus metrics and a
// health/status endpoint over HTTP, and shuts down gracefully on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clusterops/powerbalance/internal/archive"
	"github.com/clusterops/powerbalance/internal/budget"
	"github.com/clusterops/powerbalance/internal/coordinator"
	"github.com/clusterops/powerbalance/internal/eventbus"
	"github.com/clusterops/powerbalance/internal/scheduler"
	"github.com/clusterops/powerbalance/internal/server"
	"github.com/clusterops/powerbalance/internal/statuscache"
	"github.com/clusterops/powerbalance/internal/trace"
	"github.com/clusterops/powerbalance/internal/util"
	"github.com/clusterops/powerbalance/pkg/config"
)

func main() {
	logger := util.InitLogger()

	opts, err := config.ParseCLI(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse CLI flags")
	}

	ko := util.InitConfig(logger, opts.Defaults())

	host := ko.String("endpoint.server.host")
	totalNodes := ko.Int("experiment.total.nodes")
	if totalNodes == 0 {
		logger.Fatal().Msg("EXPERIMENT_TOTAL_NODES must be set and nonzero")
	}

	appInfo, err := config.LoadAppInfo(opts.AppInfoPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load app-info")
	}

	experimentStart := time.Now()

	budgetGen, err := buildBudgetGenerator(opts, totalNodes, experimentStart)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build budget generator")
	}

	var sched *scheduler.Scheduler
	if opts.ReplayJobTrace != "" {
		sched, err = buildScheduler(opts, appInfo)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build job scheduler")
		}
		sched.OnExpire(func(nodes int) {
			logger.Warn().Int("nodes", nodes).Msg("scheduler: reclaimed a launch reservation whose handshake never arrived")
		})
	}

	traceSink, err := trace.Open(opts.TraceFilePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open trace sink")
	}
	defer traceSink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archiveMirror, err := archive.Open(ctx, ko.String("archive.dsn"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open archive mirror")
	}
	defer archiveMirror.Close()

	statusCache, err := statuscache.Open("power_status.db", 200)
	if err != nil {
		logger.Warn().Err(err).Msg("status cache disabled")
		statusCache = nil
	}
	if statusCache != nil {
		defer statusCache.Close()
	}

	events, err := eventbus.Connect(ctx, os.Getenv("NATS_URL"), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("event bus disabled")
		events = nil
	}
	defer events.Close()

	cs := coordinator.New(
		coordinator.Options{
			TotalNodes:          totalNodes,
			NoCrossJobSharing:   opts.NoCrossJobSharing,
			UsePreCharacterized: opts.UsePreCharacterized,
			IgnoreRunTimeModels: opts.IgnoreRunTimeModels,
			AppInfo:             appInfo,
			ConfuseJobs:         opts.ConfuseJobs,
			ExperimentStart:     experimentStart,
			JobNames:            opts.JobNames,
		},
		budgetGen, sched, traceSink, archiveMirror, statusCache, events, logger,
	)

	srv, err := server.Listen(host, opts.Port, cs, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind coordinator listener")
	}

	httpSrv := startHTTPServer(cs, events, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("listener exited")
		}
	}

	cancel()
	srv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}
}

// buildBudgetGenerator selects trace-replay mode when --power-trace-file
// is set, otherwise the default triangular sweep, per spec.md 4.6.
func buildBudgetGenerator(opts *config.Options, totalNodes int, start time.Time) (*budget.Generator, error) {
	if opts.PowerTraceFile == "" {
		return budget.NewTriangularSweep(opts.AveragePowerTarget, opts.Reserve, totalNodes, start), nil
	}

	trace, err := config.LoadPowerTrace(opts.PowerTraceFile)
	if err != nil {
		return nil, err
	}
	return budget.NewTraceReplay(trace, opts.AveragePowerTarget, opts.Reserve, totalNodes, start), nil
}

// buildScheduler loads the replay job trace and wires it with the
// configured job names/weights, per spec.md 4.7. Each row's jobTypeID is
// resolved to a profile name via --job-names and then to its node count
// via --app-info, mirroring the original's JOB_SIZES_BY_NAME lookup.
func buildScheduler(opts *config.Options, appInfo config.AppInfo) (*scheduler.Scheduler, error) {
	rows, err := config.LoadJobTrace(opts.ReplayJobTrace)
	if err != nil {
		return nil, err
	}

	queue := make([]scheduler.QueuedJob, len(rows))
	for i, r := range rows {
		queue[i] = scheduler.QueuedJob{
			JobID:     r.JobID,
			JobTypeID: r.JobTypeID,
			StartTime: r.StartTime,
			QueueTime: r.QueueTime,
			Nodes:     jobTypeNodes(appInfo, opts.JobNames, opts.ConfuseJobs, r.JobTypeID),
		}
	}

	weights := make(map[int]float64, len(opts.JobWeights))
	for i, w := range opts.JobWeights {
		weights[i] = w
	}

	return scheduler.New(queue, weights, opts.ReplayStartTime, nil), nil
}

// jobTypeNodes resolves a jobTypeID to its --app-info node count via
// --job-names. An unresolvable jobTypeID (no configured name, or no
// matching app-info entry) yields 0, matching the scheduler's existing
// zero-nodes-never-dispatches guard rather than an arbitrary default.
func jobTypeNodes(appInfo config.AppInfo, jobNames []string, confusions map[string]string, jobTypeID int) int {
	if jobTypeID < 0 || jobTypeID >= len(jobNames) {
		return 0
	}
	entry, _, ok := appInfo.ResolveProfile(jobNames[jobTypeID], confusions)
	if !ok {
		return 0
	}
	return entry.Nodes
}

// startHTTPServer serves /metrics, /healthz, and /status on a separate
// listener from the coordinator's job-facing TCP socket, matching the
// teacher's pattern of a dedicated observability HTTP server run
// alongside the core service loop.
func startHTTPServer(cs *coordinator.ClusterState, events *eventbus.Publisher, logger *zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !events.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active_endpoints": cs.ActiveCount(),
		})
	})

	httpSrv := &http.Server{Addr: ":9100", Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("observability http server exited")
		}
	}()
	return httpSrv
}
