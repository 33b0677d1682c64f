// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package dispatch links each run's architect, blueprint, and
// provider into one supervised job, and runs the shared sending loop
// that applies unit status reports from the task runtime to the
// store.
package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/taskhive/taskhive/lib/architect"
	"github.com/taskhive/taskhive/lib/blueprint"
	"github.com/taskhive/taskhive/lib/provider"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// A Job is the registered linkage of architect + blueprint +
// provider for one run. It is shut down at most once.
type Job struct {
	ID             string
	Run            taskhive.TaskRun
	Architect      architect.Architect
	Runner         blueprint.Blueprint
	Provider       provider.Provider
	Qualifications []taskhive.Qualification

	shutdownOnce sync.Once
}

// A UnitEvent is a status report for one unit, delivered by the task
// runtime to the sending loop.
type UnitEvent struct {
	RunID  string
	UnitID string
	State  taskhive.UnitState
}

// A Supervisor owns the process-wide job registry and sending loop.
// There is one Supervisor per operator process; the sending loop is
// started lazily, at most once, regardless of how many runs are
// launched.
type Supervisor struct {
	store  store.Store
	logger logrus.FieldLogger

	// notify, if non-nil, is called (from the sending loop) with
	// the run ID whenever a run's completion flag is flipped.
	notify func(runID string)

	mtx  sync.Mutex
	jobs map[string]*Job

	events      chan UnitEvent
	sendOnce    sync.Once
	loopStarted bool
	stop        chan struct{}
	stopped     chan struct{}

	shutdownOnce sync.Once
}

// New returns a Supervisor backed by the given store. notify may be
// nil.
func New(st store.Store, logger logrus.FieldLogger, notify func(runID string)) *Supervisor {
	return &Supervisor{
		store:   st,
		logger:  logger,
		notify:  notify,
		jobs:    map[string]*Job{},
		events:  make(chan UnitEvent, 64),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// RegisterJob wires the given collaborators into a supervised job
// for the run.
func (sup *Supervisor) RegisterJob(run taskhive.TaskRun, arch architect.Architect, runner blueprint.Blueprint, prov provider.Provider, quals []taskhive.Qualification) *Job {
	job := &Job{
		ID:             uuid.NewString(),
		Run:            run,
		Architect:      arch,
		Runner:         runner,
		Provider:       prov,
		Qualifications: quals,
	}
	sup.mtx.Lock()
	defer sup.mtx.Unlock()
	sup.jobs[run.ID] = job
	return job
}

// EnsureSendingLoop starts the shared sending loop if it is not
// already running. Safe to call from concurrent launches; at most
// one loop is ever started.
func (sup *Supervisor) EnsureSendingLoop() {
	sup.sendOnce.Do(func() {
		sup.mtx.Lock()
		sup.loopStarted = true
		sup.mtx.Unlock()
		go sup.runSendingLoop()
	})
}

// SendingLoopRunning reports whether the shared sending loop has
// been started.
func (sup *Supervisor) SendingLoopRunning() bool {
	sup.mtx.Lock()
	defer sup.mtx.Unlock()
	return sup.loopStarted
}

// ReportUnitState delivers a unit status report to the sending loop.
// Reports arriving after Shutdown are dropped.
func (sup *Supervisor) ReportUnitState(ev UnitEvent) {
	select {
	case <-sup.stop:
	case sup.events <- ev:
	}
}

func (sup *Supervisor) runSendingLoop() {
	defer close(sup.stopped)
	for {
		select {
		case <-sup.stop:
			return
		case ev := <-sup.events:
			sup.applyEvent(ev)
		}
	}
}

func (sup *Supervisor) applyEvent(ev UnitEvent) {
	ctx := context.Background()
	logger := sup.logger.WithFields(logrus.Fields{
		"RunID":  ev.RunID,
		"UnitID": ev.UnitID,
	})
	err := sup.store.UpdateUnitState(ctx, ev.UnitID, ev.State, "")
	if err != nil {
		logger.WithError(err).Warn("error applying unit state report")
		return
	}
	if !ev.State.Terminal() {
		return
	}
	units, err := sup.store.UnitsForRun(ctx, ev.RunID)
	if err != nil {
		logger.WithError(err).Warn("error checking run units")
		return
	}
	for _, unit := range units {
		if !unit.State.Terminal() {
			return
		}
	}
	if err := sup.store.SetRunCompleted(ctx, ev.RunID); err != nil {
		logger.WithError(err).Warn("error marking run completed")
		return
	}
	logger.Info("all units terminal, run marked completed")
	if sup.notify != nil {
		sup.notify(ev.RunID)
	}
}

// ShutdownJob unregisters the job. The job's shutdown side effects
// happen at most once; a second call is a no-op.
func (sup *Supervisor) ShutdownJob(job *Job) {
	job.shutdownOnce.Do(func() {
		sup.mtx.Lock()
		defer sup.mtx.Unlock()
		delete(sup.jobs, job.Run.ID)
	})
}

// Jobs returns the currently registered jobs, keyed by run ID.
func (sup *Supervisor) Jobs() map[string]*Job {
	sup.mtx.Lock()
	defer sup.mtx.Unlock()
	jobs := make(map[string]*Job, len(sup.jobs))
	for id, job := range sup.jobs {
		jobs[id] = job
	}
	return jobs
}

// Shutdown stops the sending loop (if it was started), waits for it
// to exit, and unregisters any remaining jobs. Safe to call more
// than once.
func (sup *Supervisor) Shutdown() {
	sup.shutdownOnce.Do(func() {
		close(sup.stop)
		if sup.SendingLoopRunning() {
			<-sup.stopped
		}
		for _, job := range sup.Jobs() {
			sup.ShutdownJob(job)
		}
	})
}
