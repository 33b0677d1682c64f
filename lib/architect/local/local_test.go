// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package local

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskhive/taskhive/sdk/go/taskhive"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&LocalSuite{})

type LocalSuite struct{}

func (s *LocalSuite) newArchitect(c *check.C, args taskhive.TaskArgs) *localArchitect {
	buildDir := c.MkDir()
	if args == nil {
		args = taskhive.TaskArgs{}
	}
	if _, ok := args["server-hostname"]; !ok {
		args["server-hostname"] = "localhost"
	}
	arch, err := Driver.New(nil, args, taskhive.TaskRun{ID: "run1"}, buildDir)
	c.Assert(err, check.IsNil)
	return arch.(*localArchitect)
}

func fetch(c *check.C, url string) string {
	resp, err := http.Get(url)
	c.Assert(err, check.IsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, check.Equals, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, check.IsNil)
	return string(body)
}

func (s *LocalSuite) TestValidateArgs(c *check.C) {
	srcDir := c.MkDir()
	srcFile := filepath.Join(srcDir, "index.html")
	c.Assert(os.WriteFile(srcFile, []byte("hi"), 0644), check.IsNil)
	for _, trial := range []struct {
		args taskhive.TaskArgs
		ok   bool
	}{
		{taskhive.TaskArgs{"server-port": 0}, true},
		{taskhive.TaskArgs{"task-source": srcDir, "server-port": 0}, true},
		{taskhive.TaskArgs{"task-source": srcFile, "server-port": 0}, false},
		{taskhive.TaskArgs{"task-source": "/nonexistent", "server-port": 0}, false},
		{taskhive.TaskArgs{"server-port": -1}, false},
		{taskhive.TaskArgs{"server-port": 70000}, false},
	} {
		err := Driver.ValidateArgs(trial.args)
		if trial.ok {
			c.Check(err, check.IsNil)
		} else {
			c.Check(err, check.NotNil)
		}
	}
}

func (s *LocalSuite) TestPlaceholderDeploy(c *check.C) {
	arch := s.newArchitect(c, nil)
	defer arch.Shutdown()
	buildDir, err := arch.Prepare()
	c.Assert(err, check.IsNil)
	c.Check(buildDir, check.Equals, arch.buildDir)

	url, err := arch.Deploy()
	c.Assert(err, check.IsNil)
	c.Check(strings.HasPrefix(url, "http://localhost:"), check.Equals, true)
	c.Check(fetch(c, url), check.Matches, `(?s).*no frontend bundle configured.*`)
}

func (s *LocalSuite) TestServesTaskSource(c *check.C) {
	srcDir := c.MkDir()
	c.Assert(os.WriteFile(filepath.Join(srcDir, "index.html"), []byte("<p>real task</p>"), 0644), check.IsNil)
	c.Assert(os.MkdirAll(filepath.Join(srcDir, "static"), 0755), check.IsNil)
	c.Assert(os.WriteFile(filepath.Join(srcDir, "static", "app.js"), []byte("// app"), 0644), check.IsNil)

	arch := s.newArchitect(c, taskhive.TaskArgs{"task-source": srcDir})
	defer arch.Shutdown()
	_, err := arch.Prepare()
	c.Assert(err, check.IsNil)
	url, err := arch.Deploy()
	c.Assert(err, check.IsNil)
	c.Check(fetch(c, url), check.Equals, "<p>real task</p>")
	c.Check(fetch(c, url+"static/app.js"), check.Equals, "// app")
}

func (s *LocalSuite) TestCleanupKeepsURLAlive(c *check.C) {
	arch := s.newArchitect(c, nil)
	defer arch.Shutdown()
	_, err := arch.Prepare()
	c.Assert(err, check.IsNil)
	url, err := arch.Deploy()
	c.Assert(err, check.IsNil)

	c.Assert(arch.Cleanup(), check.IsNil)
	_, err = os.Stat(arch.buildDir)
	c.Check(os.IsNotExist(err), check.Equals, true)
	// The deployed URL survives build dir removal.
	c.Check(fetch(c, url), check.Matches, `(?s).*no frontend bundle configured.*`)
}

func (s *LocalSuite) TestShutdownStopsServing(c *check.C) {
	arch := s.newArchitect(c, nil)
	_, err := arch.Prepare()
	c.Assert(err, check.IsNil)
	url, err := arch.Deploy()
	c.Assert(err, check.IsNil)
	deployDir := arch.deployDir

	c.Check(arch.Shutdown(), check.IsNil)
	_, err = http.Get(url)
	c.Check(err, check.NotNil)
	_, err = os.Stat(deployDir)
	c.Check(os.IsNotExist(err), check.Equals, true)
	// Repeated shutdown is a no-op.
	c.Check(arch.Shutdown(), check.IsNil)
}

func (s *LocalSuite) TestShutdownBeforeDeploy(c *check.C) {
	arch := s.newArchitect(c, nil)
	c.Check(arch.Shutdown(), check.IsNil)
}

func (s *LocalSuite) TestFailedDeployLeavesNoStagedDir(c *check.C) {
	staged := func() []string {
		dirs, err := filepath.Glob(filepath.Join(os.TempDir(), "taskhive-serve-*"))
		c.Assert(err, check.IsNil)
		return dirs
	}
	before := staged()

	// invalid.invalid (RFC 2606) never resolves, so the post-deploy
	// health check fails after the staged copy was made.
	arch := s.newArchitect(c, taskhive.TaskArgs{"server-hostname": "invalid.invalid"})
	_, err := arch.Prepare()
	c.Assert(err, check.IsNil)
	_, err = arch.Deploy()
	c.Assert(err, check.NotNil)

	c.Check(staged(), check.DeepEquals, before)
	c.Check(arch.deployDir, check.Equals, "")
	c.Check(arch.Shutdown(), check.IsNil)
}
