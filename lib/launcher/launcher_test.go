// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package launcher

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/taskhive/taskhive/lib/store"
	boltstore "github.com/taskhive/taskhive/lib/store/bolt"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&LauncherSuite{})

type LauncherSuite struct {
	st  store.Store
	run taskhive.TaskRun
}

func (s *LauncherSuite) SetUpTest(c *check.C) {
	ctx := context.Background()
	st, err := boltstore.Open(filepath.Join(c.MkDir(), "taskhive.db"))
	c.Assert(err, check.IsNil)
	s.st = st
	reqID, err := st.CreateRequester(ctx, "alice", "mock", true)
	c.Assert(err, check.IsNil)
	taskID, err := st.CreateTask(ctx, "example-task", "static")
	c.Assert(err, check.IsNil)
	runID, err := st.CreateRun(ctx, store.CreateRunParams{
		TaskID:        taskID,
		RequesterID:   reqID,
		ProviderType:  "mock",
		BlueprintType: "static",
		Sandbox:       true,
	})
	c.Assert(err, check.IsNil)
	s.run, err = st.GetRun(ctx, runID)
	c.Assert(err, check.IsNil)
}

func (s *LauncherSuite) TearDownTest(c *check.C) {
	c.Check(s.st.Close(), check.IsNil)
}

func (s *LauncherSuite) TestCreateAndLaunch(c *check.C) {
	ctx := context.Background()
	data := []taskhive.InitializationData{
		{
			SharedData: map[string]interface{}{"question": "q1"},
			UnitData:   []map[string]interface{}{{"worker_slot": 0.0}, {"worker_slot": 1.0}},
		},
		{
			SharedData: map[string]interface{}{"question": "q2"},
			UnitData:   []map[string]interface{}{{"worker_slot": 0.0}},
		},
	}
	l := New(s.st, s.run, data)
	c.Assert(l.CreateAssignments(ctx), check.IsNil)

	units, err := s.st.UnitsForRun(ctx, s.run.ID)
	c.Assert(err, check.IsNil)
	c.Assert(units, check.HasLen, 3)
	for _, unit := range units {
		c.Check(unit.State, check.Equals, taskhive.UnitCreated)
		c.Check(unit.TaskURL, check.Equals, "")
	}
	// Two distinct assignments, with 2 and 1 units respectively.
	perAssignment := map[string]int{}
	for _, unit := range units {
		perAssignment[unit.AssignmentID]++
	}
	var counts []int
	for _, n := range perAssignment {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	c.Check(counts, check.DeepEquals, []int{1, 2})

	c.Assert(l.LaunchUnits(ctx, "http://example/task/123"), check.IsNil)
	units, err = s.st.UnitsForRun(ctx, s.run.ID)
	c.Assert(err, check.IsNil)
	for _, unit := range units {
		c.Check(unit.State, check.Equals, taskhive.UnitLaunched)
		c.Check(unit.TaskURL, check.Equals, "http://example/task/123")
	}
}

func (s *LauncherSuite) TestExpireSkipsTerminalUnits(c *check.C) {
	ctx := context.Background()
	data := []taskhive.InitializationData{{
		UnitData: []map[string]interface{}{{"u": 0.0}, {"u": 1.0}},
	}}
	l := New(s.st, s.run, data)
	c.Assert(l.CreateAssignments(ctx), check.IsNil)
	c.Assert(l.LaunchUnits(ctx, "http://example/task"), check.IsNil)

	units, err := s.st.UnitsForRun(ctx, s.run.ID)
	c.Assert(err, check.IsNil)
	c.Assert(s.st.UpdateUnitState(ctx, units[0].ID, taskhive.UnitCompleted, ""), check.IsNil)

	c.Assert(l.ExpireUnits(ctx), check.IsNil)
	units, err = s.st.UnitsForRun(ctx, s.run.ID)
	c.Assert(err, check.IsNil)
	states := map[taskhive.UnitState]int{}
	for _, unit := range units {
		states[unit.State]++
	}
	c.Check(states, check.DeepEquals, map[taskhive.UnitState]int{
		taskhive.UnitCompleted: 1,
		taskhive.UnitExpired:   1,
	})

	// A second expire pass changes nothing.
	c.Assert(l.ExpireUnits(ctx), check.IsNil)
	again, err := s.st.UnitsForRun(ctx, s.run.ID)
	c.Assert(err, check.IsNil)
	c.Check(again, check.DeepEquals, units)
}

func (s *LauncherSuite) TestEmptyInitializationData(c *check.C) {
	ctx := context.Background()
	l := New(s.st, s.run, nil)
	c.Assert(l.CreateAssignments(ctx), check.IsNil)
	c.Assert(l.LaunchUnits(ctx, "http://example/task"), check.IsNil)
	units, err := s.st.UnitsForRun(ctx, s.run.ID)
	c.Assert(err, check.IsNil)
	c.Check(units, check.HasLen, 0)
	c.Assert(l.ExpireUnits(ctx), check.IsNil)
}
