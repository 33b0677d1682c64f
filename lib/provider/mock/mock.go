// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package mock implements a crowd provider with no external
// marketplace: registrations are recorded in memory. It backs
// sandbox requesters and tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskhive/taskhive/lib/provider"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// Driver is the registerable driver for the "mock" provider type.
var Driver provider.Driver = &mockDriver{}

type mockDriver struct{}

func (d *mockDriver) Options() []taskhive.Option {
	return []taskhive.Option{
		{
			Name:    "fail-registration",
			Type:    taskhive.OptionBool,
			Default: false,
			Help:    "Make resource registration fail (for exercising post-deploy failure handling)",
		},
	}
}

func (d *mockDriver) ValidateArgs(args taskhive.TaskArgs) error {
	return nil
}

func (d *mockDriver) New(st store.Store) (provider.Provider, error) {
	return &Provider{}, nil
}

// A Registration records one call to SetupResourcesForTaskRun.
type Registration struct {
	RunID          string
	TaskURL        string
	Sandbox        bool
	Qualifications []taskhive.Qualification
}

// Provider implements provider.Provider.
type Provider struct {
	mtx           sync.Mutex
	registrations []Registration
}

// SetupResourcesForTaskRun records the registration.
func (p *Provider) SetupResourcesForTaskRun(ctx context.Context, run taskhive.TaskRun, args taskhive.TaskArgs, taskURL string) error {
	if args.Bool("fail-registration") {
		return fmt.Errorf("mock provider: registration failed as requested")
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.registrations = append(p.registrations, Registration{
		RunID:          run.ID,
		TaskURL:        taskURL,
		Sandbox:        run.Sandbox,
		Qualifications: args.Qualifications(),
	})
	return nil
}

// Registrations returns a copy of all recorded registrations.
func (p *Provider) Registrations() []Registration {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]Registration(nil), p.registrations...)
}
