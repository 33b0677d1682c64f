// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package blueprint defines the execution-plugin interface: the
// pluggable logic deciding what data a task run needs and how it is
// driven once deployed.
package blueprint

import (
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// A Driver creates Blueprint instances of one registered type. A
// driver's Options are merged into the launch argument parser, and
// ValidateArgs is called on the resolved configuration before any
// record is created or any server is deployed.
type Driver interface {
	// Options declares the command line options this blueprint
	// type understands.
	Options() []taskhive.Option

	// ValidateArgs performs the blueprint's own semantic checks
	// on the resolved configuration (beyond type/presence, which
	// the operator's parser already enforced).
	ValidateArgs(args taskhive.TaskArgs) error

	// New constructs the blueprint instance for one run.
	New(run taskhive.TaskRun, args taskhive.TaskArgs) (Blueprint, error)
}

// A Blueprint is the execution-plugin instance bound to one run. It
// is registered with the dispatch supervisor's job for the run, and
// is released when the run is torn down.
//
// All methods are goroutine safe.
type Blueprint interface {
	// InitializationData returns the data needed to materialize
	// the run's work units. The only supported shape is
	// []taskhive.InitializationData, ordered; the operator
	// rejects anything else at launch time. The interface return
	// type leaves room for streaming initialization later.
	InitializationData() (interface{}, error)
}
