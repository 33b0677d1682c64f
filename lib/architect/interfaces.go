// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package architect defines the server-deployment plugin interface:
// the pluggable logic that provisions, serves, and tears down the
// web server hosting one task run.
package architect

import (
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// A Driver creates Architect instances of one registered type.
type Driver interface {
	// Options declares the command line options this architect
	// type understands.
	Options() []taskhive.Option

	// ValidateArgs performs the architect's own semantic checks
	// on the resolved configuration.
	ValidateArgs(args taskhive.TaskArgs) error

	// New constructs the architect instance for one run. buildDir
	// is an empty directory scoped to the run; the architect owns
	// its contents until Cleanup.
	New(st store.Store, args taskhive.TaskArgs, run taskhive.TaskRun, buildDir string) (Architect, error)
}

// An Architect stands up and tears down the server for one run.
//
// The operator calls Prepare, Deploy, Cleanup in that order during
// launch, and Shutdown exactly once during teardown. Cleanup
// releases local build-time resources only; it must never invalidate
// the URL returned by Deploy, and must be idempotent with a later
// Shutdown. Shutdown must tolerate being called after Cleanup, after
// a failed Deploy, or more than once.
type Architect interface {
	// Prepare assembles the deployable artifact in the build
	// directory and returns its path.
	Prepare() (string, error)

	// Deploy makes the prepared artifact publicly reachable and
	// returns the task URL.
	Deploy() (string, error)

	// Cleanup releases local build resources. The deployed
	// artifact keeps running.
	Cleanup() error

	// Shutdown stops the deployed server.
	Shutdown() error
}
