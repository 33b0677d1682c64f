// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bolt

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&BoltSuite{})

type BoltSuite struct {
	db *DB
}

func (s *BoltSuite) SetUpTest(c *check.C) {
	db, err := Open(filepath.Join(c.MkDir(), "taskhive.db"))
	c.Assert(err, check.IsNil)
	s.db = db
}

func (s *BoltSuite) TearDownTest(c *check.C) {
	c.Check(s.db.Close(), check.IsNil)
}

func (s *BoltSuite) TestRequesterRoundTrip(c *check.C) {
	ctx := context.Background()
	id, err := s.db.CreateRequester(ctx, "alice", "mock", true)
	c.Assert(err, check.IsNil)
	req, err := s.db.FindRequester(ctx, "alice")
	c.Assert(err, check.IsNil)
	c.Check(req, check.DeepEquals, taskhive.Requester{
		ID:           id,
		Name:         "alice",
		ProviderType: "mock",
		Sandbox:      true,
	})

	_, err = s.db.FindRequester(ctx, "nosuch")
	c.Check(err, check.Equals, store.ErrNotFound)
	_, err = s.db.CreateRequester(ctx, "alice", "mock", false)
	c.Check(err, check.Equals, store.ErrExists)
}

func (s *BoltSuite) TestTaskNameUniqueness(c *check.C) {
	ctx := context.Background()
	id, err := s.db.CreateTask(ctx, "survey", "static")
	c.Assert(err, check.IsNil)
	_, err = s.db.CreateTask(ctx, "survey", "static")
	c.Check(err, check.Equals, store.ErrExists)
	task, err := s.db.FindTask(ctx, "survey")
	c.Assert(err, check.IsNil)
	c.Check(task.ID, check.Equals, id)
	c.Check(task.TaskType, check.Equals, "static")
}

func (s *BoltSuite) TestConcurrentCreateTaskOneWinner(c *check.C) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.db.CreateTask(ctx, "survey", "static")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	var ok, exists int
	for err := range errs {
		switch err {
		case nil:
			ok++
		case store.ErrExists:
			exists++
		default:
			c.Fatalf("unexpected error: %v", err)
		}
	}
	c.Check(ok, check.Equals, 1)
	c.Check(exists, check.Equals, 9)
}

func (s *BoltSuite) TestRunLifecycle(c *check.C) {
	ctx := context.Background()
	runID, err := s.db.CreateRun(ctx, store.CreateRunParams{
		TaskID:        "task1",
		RequesterID:   "req1",
		ArgString:     "--task-name survey",
		ProviderType:  "mock",
		BlueprintType: "static",
		Sandbox:       true,
	})
	c.Assert(err, check.IsNil)

	run, err := s.db.GetRun(ctx, runID)
	c.Assert(err, check.IsNil)
	c.Check(run.Completed, check.Equals, false)
	c.Check(run.ArgString, check.Equals, "--task-name survey")

	incomplete, err := s.db.IncompleteRuns(ctx)
	c.Assert(err, check.IsNil)
	c.Check(incomplete, check.HasLen, 1)

	c.Assert(s.db.SetRunCompleted(ctx, runID), check.IsNil)
	run, err = s.db.GetRun(ctx, runID)
	c.Assert(err, check.IsNil)
	c.Check(run.Completed, check.Equals, true)

	incomplete, err = s.db.IncompleteRuns(ctx)
	c.Assert(err, check.IsNil)
	c.Check(incomplete, check.HasLen, 0)

	_, err = s.db.GetRun(ctx, "nosuch")
	c.Check(err, check.Equals, store.ErrNotFound)
	c.Check(s.db.SetRunCompleted(ctx, "nosuch"), check.Equals, store.ErrNotFound)
}

func (s *BoltSuite) TestUnitsForRunIsolation(c *check.C) {
	ctx := context.Background()
	makeRun := func() (string, []string) {
		runID, err := s.db.CreateRun(ctx, store.CreateRunParams{TaskID: "t", RequesterID: "r"})
		c.Assert(err, check.IsNil)
		asgID, err := s.db.CreateAssignment(ctx, runID, 0, map[string]interface{}{"q": "shared"})
		c.Assert(err, check.IsNil)
		var ids []string
		for i := 0; i < 3; i++ {
			id, err := s.db.CreateUnit(ctx, asgID, runID, i, map[string]interface{}{"n": float64(i)})
			c.Assert(err, check.IsNil)
			ids = append(ids, id)
		}
		return runID, ids
	}
	run1, units1 := makeRun()
	run2, _ := makeRun()

	got, err := s.db.UnitsForRun(ctx, run1)
	c.Assert(err, check.IsNil)
	c.Assert(got, check.HasLen, 3)
	seen := map[string]bool{}
	for _, unit := range got {
		c.Check(unit.TaskRunID, check.Equals, run1)
		c.Check(unit.State, check.Equals, taskhive.UnitCreated)
		seen[unit.ID] = true
	}
	for _, id := range units1 {
		c.Check(seen[id], check.Equals, true)
	}

	got, err = s.db.UnitsForRun(ctx, run2)
	c.Assert(err, check.IsNil)
	c.Check(got, check.HasLen, 3)
}

func (s *BoltSuite) TestUnitsForRunOrderedByIndex(c *check.C) {
	ctx := context.Background()
	runID, err := s.db.CreateRun(ctx, store.CreateRunParams{TaskID: "t", RequesterID: "r"})
	c.Assert(err, check.IsNil)
	asgID, err := s.db.CreateAssignment(ctx, runID, 0, nil)
	c.Assert(err, check.IsNil)
	for _, idx := range []int{2, 0, 1} {
		_, err := s.db.CreateUnit(ctx, asgID, runID, idx, nil)
		c.Assert(err, check.IsNil)
	}
	units, err := s.db.UnitsForRun(ctx, runID)
	c.Assert(err, check.IsNil)
	c.Assert(units, check.HasLen, 3)
	for i, unit := range units {
		c.Check(unit.Index, check.Equals, i)
	}
}

func (s *BoltSuite) TestUpdateUnitStateKeepsURL(c *check.C) {
	ctx := context.Background()
	runID, err := s.db.CreateRun(ctx, store.CreateRunParams{TaskID: "t", RequesterID: "r"})
	c.Assert(err, check.IsNil)
	asgID, err := s.db.CreateAssignment(ctx, runID, 0, nil)
	c.Assert(err, check.IsNil)
	unitID, err := s.db.CreateUnit(ctx, asgID, runID, 0, nil)
	c.Assert(err, check.IsNil)

	c.Assert(s.db.UpdateUnitState(ctx, unitID, taskhive.UnitLaunched, "http://example/task"), check.IsNil)
	// A later state change with no URL keeps the stored URL.
	c.Assert(s.db.UpdateUnitState(ctx, unitID, taskhive.UnitCompleted, ""), check.IsNil)

	units, err := s.db.UnitsForRun(ctx, runID)
	c.Assert(err, check.IsNil)
	c.Assert(units, check.HasLen, 1)
	c.Check(units[0].State, check.Equals, taskhive.UnitCompleted)
	c.Check(units[0].TaskURL, check.Equals, "http://example/task")

	c.Check(s.db.UpdateUnitState(ctx, "nosuch", taskhive.UnitExpired, ""), check.Equals, store.ErrNotFound)
}

func (s *BoltSuite) TestReopen(c *check.C) {
	ctx := context.Background()
	path := filepath.Join(c.MkDir(), "taskhive.db")
	db, err := Open(path)
	c.Assert(err, check.IsNil)
	_, err = db.CreateRequester(ctx, "bob", "mock", false)
	c.Assert(err, check.IsNil)
	c.Assert(db.Close(), check.IsNil)

	db, err = Open(path)
	c.Assert(err, check.IsNil)
	defer db.Close()
	req, err := db.FindRequester(ctx, "bob")
	c.Assert(err, check.IsNil)
	c.Check(req.Name, check.Equals, "bob")
}
