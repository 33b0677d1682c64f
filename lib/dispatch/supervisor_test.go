// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskhive/taskhive/lib/store"
	boltstore "github.com/taskhive/taskhive/lib/store/bolt"
	"github.com/taskhive/taskhive/sdk/go/ctxlog"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&SupervisorSuite{})

type SupervisorSuite struct {
	st store.Store
}

func (s *SupervisorSuite) SetUpTest(c *check.C) {
	st, err := boltstore.Open(filepath.Join(c.MkDir(), "taskhive.db"))
	c.Assert(err, check.IsNil)
	s.st = st
}

func (s *SupervisorSuite) TearDownTest(c *check.C) {
	c.Check(s.st.Close(), check.IsNil)
}

// makeRun stores a run with the given number of launched units and
// returns the run plus its unit IDs.
func (s *SupervisorSuite) makeRun(c *check.C, nunits int) (taskhive.TaskRun, []string) {
	ctx := context.Background()
	reqID, err := s.st.CreateRequester(ctx, "alice", "mock", true)
	c.Assert(err, check.IsNil)
	taskID, err := s.st.CreateTask(ctx, "example-task", "static")
	c.Assert(err, check.IsNil)
	runID, err := s.st.CreateRun(ctx, store.CreateRunParams{
		TaskID:        taskID,
		RequesterID:   reqID,
		ProviderType:  "mock",
		BlueprintType: "static",
		Sandbox:       true,
	})
	c.Assert(err, check.IsNil)
	asgID, err := s.st.CreateAssignment(ctx, runID, 0, nil)
	c.Assert(err, check.IsNil)
	var unitIDs []string
	for i := 0; i < nunits; i++ {
		unitID, err := s.st.CreateUnit(ctx, asgID, runID, i, nil)
		c.Assert(err, check.IsNil)
		c.Assert(s.st.UpdateUnitState(ctx, unitID, taskhive.UnitLaunched, "http://example/task"), check.IsNil)
		unitIDs = append(unitIDs, unitID)
	}
	run, err := s.st.GetRun(ctx, runID)
	c.Assert(err, check.IsNil)
	return run, unitIDs
}

func (s *SupervisorSuite) TestSendingLoopStartsOnce(c *check.C) {
	sup := New(s.st, ctxlog.TestLogger(c), nil)
	defer sup.Shutdown()
	c.Check(sup.SendingLoopRunning(), check.Equals, false)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.EnsureSendingLoop()
		}()
	}
	wg.Wait()
	c.Check(sup.SendingLoopRunning(), check.Equals, true)
}

func (s *SupervisorSuite) TestCompletionFlipsRunAndNotifies(c *check.C) {
	run, unitIDs := s.makeRun(c, 2)
	notified := make(chan string, 1)
	sup := New(s.st, ctxlog.TestLogger(c), func(runID string) { notified <- runID })
	defer sup.Shutdown()
	sup.RegisterJob(run, nil, nil, nil, nil)
	sup.EnsureSendingLoop()

	sup.ReportUnitState(UnitEvent{RunID: run.ID, UnitID: unitIDs[0], State: taskhive.UnitCompleted})
	// One unit still outstanding: no notification, run incomplete.
	select {
	case id := <-notified:
		c.Fatalf("unexpected completion notification for run %s", id)
	case <-time.After(50 * time.Millisecond):
	}

	sup.ReportUnitState(UnitEvent{RunID: run.ID, UnitID: unitIDs[1], State: taskhive.UnitExpired})
	select {
	case id := <-notified:
		c.Check(id, check.Equals, run.ID)
	case <-time.After(time.Second):
		c.Fatal("timed out waiting for completion notification")
	}
	stored, err := s.st.GetRun(context.Background(), run.ID)
	c.Assert(err, check.IsNil)
	c.Check(stored.Completed, check.Equals, true)
}

func (s *SupervisorSuite) TestNonTerminalReportDoesNotComplete(c *check.C) {
	run, unitIDs := s.makeRun(c, 1)
	sup := New(s.st, ctxlog.TestLogger(c), nil)
	sup.RegisterJob(run, nil, nil, nil, nil)
	sup.EnsureSendingLoop()
	sup.ReportUnitState(UnitEvent{RunID: run.ID, UnitID: unitIDs[0], State: taskhive.UnitLaunched})
	sup.Shutdown()
	stored, err := s.st.GetRun(context.Background(), run.ID)
	c.Assert(err, check.IsNil)
	c.Check(stored.Completed, check.Equals, false)
}

func (s *SupervisorSuite) TestShutdownJobTwice(c *check.C) {
	run, _ := s.makeRun(c, 1)
	sup := New(s.st, ctxlog.TestLogger(c), nil)
	defer sup.Shutdown()
	job := sup.RegisterJob(run, nil, nil, nil, nil)
	c.Check(sup.Jobs(), check.HasLen, 1)
	sup.ShutdownJob(job)
	c.Check(sup.Jobs(), check.HasLen, 0)
	sup.ShutdownJob(job)
	c.Check(sup.Jobs(), check.HasLen, 0)
}

func (s *SupervisorSuite) TestShutdownIdempotentAndDropsLateReports(c *check.C) {
	run, unitIDs := s.makeRun(c, 1)
	sup := New(s.st, ctxlog.TestLogger(c), nil)
	sup.RegisterJob(run, nil, nil, nil, nil)
	sup.EnsureSendingLoop()
	sup.Shutdown()
	sup.Shutdown()
	c.Check(sup.Jobs(), check.HasLen, 0)
	// A report after shutdown is dropped, not applied and not
	// blocking.
	done := make(chan struct{})
	go func() {
		sup.ReportUnitState(UnitEvent{RunID: run.ID, UnitID: unitIDs[0], State: taskhive.UnitCompleted})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("ReportUnitState blocked after shutdown")
	}
	stored, err := s.st.GetRun(context.Background(), run.ID)
	c.Assert(err, check.IsNil)
	c.Check(stored.Completed, check.Equals, false)
}

func (s *SupervisorSuite) TestShutdownWithoutLoop(c *check.C) {
	sup := New(s.st, ctxlog.TestLogger(c), nil)
	// Never started the sending loop; Shutdown must not wait for
	// it.
	done := make(chan struct{})
	go func() {
		sup.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("Shutdown blocked waiting for a loop that never started")
	}
}
