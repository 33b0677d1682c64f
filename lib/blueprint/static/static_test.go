// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package static

import (
	"os"
	"path/filepath"

	"github.com/taskhive/taskhive/sdk/go/taskhive"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&StaticSuite{})

type StaticSuite struct{}

func (s *StaticSuite) writeData(c *check.C, content string) string {
	path := filepath.Join(c.MkDir(), "units.json")
	c.Assert(os.WriteFile(path, []byte(content), 0644), check.IsNil)
	return path
}

func (s *StaticSuite) TestValidateArgs(c *check.C) {
	path := s.writeData(c, `[{"question": "q1"}]`)
	for _, trial := range []struct {
		args taskhive.TaskArgs
		ok   bool
	}{
		{taskhive.TaskArgs{"data-json": path, "units-per-assignment": 1}, true},
		{taskhive.TaskArgs{"data-json": path, "units-per-assignment": 0}, false},
		{taskhive.TaskArgs{"data-json": "/nonexistent/units.json", "units-per-assignment": 1}, false},
		{taskhive.TaskArgs{"data-json": s.writeData(c, `{"not": "an array"}`), "units-per-assignment": 1}, false},
		{taskhive.TaskArgs{"data-json": s.writeData(c, `[]`), "units-per-assignment": 1}, false},
	} {
		err := Driver.ValidateArgs(trial.args)
		if trial.ok {
			c.Check(err, check.IsNil)
		} else {
			c.Check(err, check.NotNil)
		}
	}
}

func (s *StaticSuite) TestGrouping(c *check.C) {
	path := s.writeData(c, `[{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}, {"n": 5}]`)
	run := taskhive.TaskRun{ID: "run123"}
	bp, err := Driver.New(run, taskhive.TaskArgs{"data-json": path, "units-per-assignment": 2})
	c.Assert(err, check.IsNil)
	raw, err := bp.InitializationData()
	c.Assert(err, check.IsNil)
	data, ok := raw.([]taskhive.InitializationData)
	c.Assert(ok, check.Equals, true)

	// 5 payloads in groups of 2: assignments of 2, 2, and 1 units,
	// preserving file order.
	c.Assert(data, check.HasLen, 3)
	c.Check(data[0].UnitData, check.DeepEquals, []map[string]interface{}{{"n": 1.0}, {"n": 2.0}})
	c.Check(data[1].UnitData, check.DeepEquals, []map[string]interface{}{{"n": 3.0}, {"n": 4.0}})
	c.Check(data[2].UnitData, check.DeepEquals, []map[string]interface{}{{"n": 5.0}})
	for _, rec := range data {
		c.Check(rec.SharedData, check.DeepEquals, map[string]interface{}{"task_run_id": "run123"})
	}
}

func (s *StaticSuite) TestOneUnitPerAssignmentDefault(c *check.C) {
	path := s.writeData(c, `[{"n": 1}, {"n": 2}]`)
	bp, err := Driver.New(taskhive.TaskRun{ID: "run1"}, taskhive.TaskArgs{"data-json": path, "units-per-assignment": 1})
	c.Assert(err, check.IsNil)
	raw, err := bp.InitializationData()
	c.Assert(err, check.IsNil)
	data := raw.([]taskhive.InitializationData)
	c.Assert(data, check.HasLen, 2)
	for _, rec := range data {
		c.Check(rec.UnitData, check.HasLen, 1)
	}
}
