// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package provider defines the crowd-provider plugin interface: the
// pluggable integration with an external worker marketplace.
package provider

import (
	"context"

	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// A Driver creates Provider instances of one registered type. The
// provider type is not chosen on the command line; it is derived
// from the stored requester.
type Driver interface {
	// Options declares the command line options this provider
	// type understands.
	Options() []taskhive.Option

	// ValidateArgs performs the provider's own semantic checks on
	// the resolved configuration.
	ValidateArgs(args taskhive.TaskArgs) error

	// New constructs the provider instance.
	New(st store.Store) (Provider, error)
}

// A Provider registers marketplace-side resources for task runs.
type Provider interface {
	// SetupResourcesForTaskRun registers eligibility lists,
	// payment configuration, and the public task URL with the
	// marketplace. args["qualifications"] holds the final
	// qualification list, including entries synthesized by the
	// operator; the provider sees that list exactly once.
	SetupResourcesForTaskRun(ctx context.Context, run taskhive.TaskRun, args taskhive.TaskArgs, taskURL string) error
}
