// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package operator drives crowd task runs through their whole
// lifecycle: it resolves launch configuration across the pluggable
// blueprint/architect/provider subsystems, registers the run, stands
// up its infrastructure, and supervises every live run until it
// completes or the operator is shut down.
package operator

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/taskhive/taskhive/lib/architect"
	"github.com/taskhive/taskhive/lib/blueprint"
	"github.com/taskhive/taskhive/lib/dispatch"
	"github.com/taskhive/taskhive/lib/launcher"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

const defaultPollInterval = 2 * time.Second

type runState int

const (
	stateLive runState = iota
	stateCompleting
	stateTornDown
)

// A TrackedRun binds one live run to its collaborators. It exists
// only inside the operator's registry: present if and only if the
// run's job and deployment have not been torn down yet.
type TrackedRun struct {
	Run       taskhive.TaskRun
	Architect architect.Architect
	Blueprint blueprint.Blueprint
	Launcher  *launcher.Launcher
	Job       *dispatch.Job

	state runState // guarded by Operator.mtx
}

// An Operator launches and supervises task runs. Set the exported
// fields before the first use; Start (called implicitly by every
// entry point) freezes them.
type Operator struct {
	Store  store.Store
	Logger logrus.FieldLogger
	// Registry receives the operator's metrics. A private
	// registry is created if nil.
	Registry *prometheus.Registry
	// PollInterval is the delay between completion scans.
	PollInterval time.Duration
	// WorkDir is where per-run build directories are created.
	// Defaults to the OS temp dir.
	WorkDir string
	// DefaultTaskArgs fill in options not given on the command
	// line (typically loaded from the config file).
	DefaultTaskArgs taskhive.TaskArgs
	// AbortOnPostDeployFailure makes a failed architect cleanup
	// or provider registration abort the launch instead of
	// logging and proceeding.
	AbortOnPostDeployFailure bool

	supervisor *dispatch.Supervisor

	mtx          sync.Mutex
	tracked      map[string]*TrackedRun
	shuttingDown bool

	wakeup  chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	setupOnce    sync.Once
	shutdownOnce sync.Once

	mRunsLaunched     prometheus.Counter
	mRunsLive         prometheus.Gauge
	mTeardowns        prometheus.Counter
	mTeardownFailures prometheus.Counter
}

// Start starts the operator's background completion tracker. Start
// can be called multiple times with no ill effect.
func (op *Operator) Start() {
	op.setupOnce.Do(op.setup)
}

func (op *Operator) setup() {
	if op.Logger == nil {
		op.Logger = logrus.StandardLogger()
	}
	if op.Registry == nil {
		op.Registry = prometheus.NewRegistry()
	}
	if op.PollInterval <= 0 {
		op.PollInterval = defaultPollInterval
	}
	op.tracked = map[string]*TrackedRun{}
	op.wakeup = make(chan struct{}, 1)
	op.stop = make(chan struct{})
	op.stopped = make(chan struct{})
	op.supervisor = dispatch.New(op.Store, op.Logger, op.notifyRunComplete)
	op.setupMetrics()

	// Visibility for runs orphaned by a previous process. They
	// are not re-adopted: their infrastructure handles died with
	// the process that launched them.
	if runs, err := op.Store.IncompleteRuns(context.Background()); err != nil {
		op.Logger.WithError(err).Warn("error scanning store for incomplete runs")
	} else if len(runs) > 0 {
		op.Logger.WithField("Count", len(runs)).Warn("store has incomplete task runs launched by earlier processes; their infrastructure is not recovered")
	}

	go op.run()
}

func (op *Operator) setupMetrics() {
	op.mRunsLaunched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskhive", Subsystem: "operator",
		Name: "runs_launched_total",
		Help: "Number of task runs launched.",
	})
	op.mRunsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskhive", Subsystem: "operator",
		Name: "runs_live",
		Help: "Number of task runs currently tracked.",
	})
	op.mTeardowns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskhive", Subsystem: "operator",
		Name: "run_teardowns_total",
		Help: "Number of task run teardowns performed.",
	})
	op.mTeardownFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskhive", Subsystem: "operator",
		Name: "run_teardown_failures_total",
		Help: "Number of errors logged while tearing down task runs.",
	})
	op.Registry.MustRegister(op.mRunsLaunched, op.mRunsLive, op.mTeardowns, op.mTeardownFailures)
}

// Supervisor returns the dispatch supervisor owned by this operator,
// through which the task runtime reports unit state.
func (op *Operator) Supervisor() *dispatch.Supervisor {
	op.Start()
	return op.supervisor
}

// notifyRunComplete wakes the tracker early so a completed run is
// torn down without waiting out the poll interval.
func (op *Operator) notifyRunComplete(runID string) {
	select {
	case op.wakeup <- struct{}{}:
	default:
	}
}

// run is the background completion tracker. It scans a snapshot of
// the live registry every PollInterval (or sooner, when the
// supervisor signals a completion) and tears down runs whose
// completion flag is set.
func (op *Operator) run() {
	defer close(op.stopped)
	ticker := time.NewTicker(op.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-op.stop:
			return
		case <-op.wakeup:
		case <-ticker.C:
		}
		op.reapCompletedRuns()
	}
}

func (op *Operator) reapCompletedRuns() {
	ctx := context.Background()
	for _, tr := range op.liveSnapshot() {
		logger := op.Logger.WithField("RunID", tr.Run.ID)
		run, err := op.Store.GetRun(ctx, tr.Run.ID)
		if err != nil {
			logger.WithError(err).Warn("error checking run completion")
			continue
		}
		if !run.Completed {
			continue
		}
		op.teardownRun(ctx, tr, false)
	}
}

// liveSnapshot copies the current live-run collection so teardown
// never mutates the registry while iterating it.
func (op *Operator) liveSnapshot() []*TrackedRun {
	op.mtx.Lock()
	defer op.mtx.Unlock()
	var trs []*TrackedRun
	for _, tr := range op.tracked {
		if tr.state == stateLive {
			trs = append(trs, tr)
		}
	}
	return trs
}

// claim moves the run from live to completing. It returns false if
// another path (background reap vs. forced shutdown) got there
// first, making teardown side effects happen at most once per run.
func (op *Operator) claim(tr *TrackedRun) bool {
	op.mtx.Lock()
	defer op.mtx.Unlock()
	if tr.state != stateLive {
		return false
	}
	tr.state = stateCompleting
	return true
}

func (op *Operator) finishTeardown(tr *TrackedRun) {
	op.mtx.Lock()
	defer op.mtx.Unlock()
	tr.state = stateTornDown
	delete(op.tracked, tr.Run.ID)
	op.mRunsLive.Dec()
	op.mTeardowns.Inc()
}

// teardownRun tears down one claimed-or-claimable run: job first,
// then deployment, then registry removal. Failures are logged, never
// raised; a run that cannot be claimed was already handled.
func (op *Operator) teardownRun(ctx context.Context, tr *TrackedRun, expireUnits bool) {
	if !op.claim(tr) {
		return
	}
	logger := op.Logger.WithField("RunID", tr.Run.ID)
	if expireUnits {
		if err := tr.Launcher.ExpireUnits(ctx); err != nil {
			logger.WithError(err).Warn("error expiring units")
			op.mTeardownFailures.Inc()
		}
	}
	op.supervisor.ShutdownJob(tr.Job)
	// The job must be gone before its transport: shut down the
	// deployment only after the job.
	if err := tr.Architect.Shutdown(); err != nil {
		logger.WithError(err).Warn("error shutting down deployment")
		op.mTeardownFailures.Inc()
	}
	op.finishTeardown(tr)
	logger.Info("run torn down")
}

// trackRun adds a freshly launched run to the live registry.
func (op *Operator) trackRun(tr *TrackedRun) bool {
	op.mtx.Lock()
	defer op.mtx.Unlock()
	if op.shuttingDown {
		return false
	}
	op.tracked[tr.Run.ID] = tr
	op.mRunsLive.Inc()
	op.mRunsLaunched.Inc()
	return true
}

// LiveRuns returns the runs currently tracked, keyed by run ID.
func (op *Operator) LiveRuns() map[string]taskhive.TaskRun {
	op.Start()
	op.mtx.Lock()
	defer op.mtx.Unlock()
	runs := make(map[string]taskhive.TaskRun, len(op.tracked))
	for id, tr := range op.tracked {
		runs[id] = tr.Run
	}
	return runs
}

// Shutdown stops the background tracker and forces teardown of every
// live run: outstanding units are expired so no new worker can start
// them, jobs are unregistered, and deployments are shut down.
// Individual failures are logged and do not block the teardown of
// other runs. Shutdown always joins the background goroutine before
// returning, and is safe to call more than once.
func (op *Operator) Shutdown(ctx context.Context) {
	op.Start()
	op.shutdownOnce.Do(func() {
		op.mtx.Lock()
		op.shuttingDown = true
		op.mtx.Unlock()
		close(op.stop)
		for _, tr := range op.liveSnapshot() {
			op.teardownRun(ctx, tr, true)
		}
		op.supervisor.Shutdown()
		<-op.stopped
		op.Logger.Info("operator shut down")
	})
}

// WaitForRunsThenShutdown blocks until every tracked run has been
// torn down (or ctx is cancelled), then shuts the operator down. If
// logEvery > 0, the live runs are logged at that interval while
// waiting.
func (op *Operator) WaitForRunsThenShutdown(ctx context.Context, logEvery time.Duration) {
	op.Start()
	defer op.Shutdown(ctx)
	var lastLog time.Time
	for {
		live := op.LiveRuns()
		if len(live) == 0 {
			return
		}
		if logEvery > 0 && time.Since(lastLog) >= logEvery {
			lastLog = time.Now()
			ids := make([]string, 0, len(live))
			for id := range live {
				ids = append(ids, id)
			}
			op.Logger.WithField("RunIDs", ids).Info("waiting for task runs")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(op.PollInterval / 2):
		}
	}
}
