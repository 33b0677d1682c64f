// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package test provides stub blueprint/architect/provider drivers
// with failure injection, for testing the operator.
package test

import (
	"context"
	"sync"

	"github.com/taskhive/taskhive/lib/architect"
	"github.com/taskhive/taskhive/lib/blueprint"
	"github.com/taskhive/taskhive/lib/provider"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// StubBlueprintDriver builds stub blueprints returning canned
// initialization data.
type StubBlueprintDriver struct {
	Opts        []taskhive.Option
	ValidateErr error
	// InitData is returned verbatim by the blueprint instance,
	// so tests can return unsupported shapes.
	InitData interface{}
	InitErr  error
}

func (d *StubBlueprintDriver) Options() []taskhive.Option { return d.Opts }

func (d *StubBlueprintDriver) ValidateArgs(args taskhive.TaskArgs) error { return d.ValidateErr }

func (d *StubBlueprintDriver) New(run taskhive.TaskRun, args taskhive.TaskArgs) (blueprint.Blueprint, error) {
	return &stubBlueprint{driver: d}, nil
}

type stubBlueprint struct {
	driver *StubBlueprintDriver
}

func (bp *stubBlueprint) InitializationData() (interface{}, error) {
	return bp.driver.InitData, bp.driver.InitErr
}

// InitData returns n assignments of one unit each, a convenient
// default for launch tests.
func InitData(n int) []taskhive.InitializationData {
	var data []taskhive.InitializationData
	for i := 0; i < n; i++ {
		data = append(data, taskhive.InitializationData{
			SharedData: map[string]interface{}{"idx": i},
			UnitData:   []map[string]interface{}{{"unit": i}},
		})
	}
	return data
}

// StubArchitectDriver builds StubArchitects and remembers them so
// tests can inspect their call counts.
type StubArchitectDriver struct {
	URL         string
	ValidateErr error
	PrepareErr  error
	DeployErr   error
	CleanupErr  error
	ShutdownErr error

	mtx        sync.Mutex
	architects []*StubArchitect
}

func (d *StubArchitectDriver) Options() []taskhive.Option { return nil }

func (d *StubArchitectDriver) ValidateArgs(args taskhive.TaskArgs) error { return d.ValidateErr }

func (d *StubArchitectDriver) New(st store.Store, args taskhive.TaskArgs, run taskhive.TaskRun, buildDir string) (architect.Architect, error) {
	arch := &StubArchitect{driver: d, Run: run, BuildDir: buildDir}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.architects = append(d.architects, arch)
	return arch, nil
}

// Architects returns every architect instance the driver has built.
func (d *StubArchitectDriver) Architects() []*StubArchitect {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append([]*StubArchitect(nil), d.architects...)
}

// StubArchitect counts lifecycle calls instead of deploying
// anything.
type StubArchitect struct {
	driver   *StubArchitectDriver
	Run      taskhive.TaskRun
	BuildDir string

	mtx       sync.Mutex
	Prepares  int
	Deploys   int
	Cleanups  int
	Shutdowns int
}

func (a *StubArchitect) Prepare() (string, error) {
	a.mtx.Lock()
	a.Prepares++
	a.mtx.Unlock()
	return a.BuildDir, a.driver.PrepareErr
}

func (a *StubArchitect) Deploy() (string, error) {
	a.mtx.Lock()
	a.Deploys++
	a.mtx.Unlock()
	url := a.driver.URL
	if url == "" {
		url = "http://stub.invalid/task/" + a.Run.ID
	}
	return url, a.driver.DeployErr
}

func (a *StubArchitect) Cleanup() error {
	a.mtx.Lock()
	a.Cleanups++
	a.mtx.Unlock()
	return a.driver.CleanupErr
}

func (a *StubArchitect) Shutdown() error {
	a.mtx.Lock()
	a.Shutdowns++
	a.mtx.Unlock()
	return a.driver.ShutdownErr
}

// ShutdownCount returns how many times Shutdown has been called.
func (a *StubArchitect) ShutdownCount() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.Shutdowns
}

// StubProviderDriver builds stub providers that record
// registrations.
type StubProviderDriver struct {
	ValidateErr error
	SetupErr    error

	mtx       sync.Mutex
	providers []*StubProvider
}

func (d *StubProviderDriver) Options() []taskhive.Option { return nil }

func (d *StubProviderDriver) ValidateArgs(args taskhive.TaskArgs) error { return d.ValidateErr }

func (d *StubProviderDriver) New(st store.Store) (provider.Provider, error) {
	prov := &StubProvider{driver: d}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.providers = append(d.providers, prov)
	return prov, nil
}

// Providers returns every provider instance the driver has built.
func (d *StubProviderDriver) Providers() []*StubProvider {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append([]*StubProvider(nil), d.providers...)
}

// Registration records one SetupResourcesForTaskRun call.
type Registration struct {
	RunID          string
	TaskURL        string
	Qualifications []taskhive.Qualification
}

// StubProvider records registrations instead of talking to a
// marketplace.
type StubProvider struct {
	driver *StubProviderDriver

	mtx           sync.Mutex
	registrations []Registration
}

func (p *StubProvider) SetupResourcesForTaskRun(ctx context.Context, run taskhive.TaskRun, args taskhive.TaskArgs, taskURL string) error {
	if err := p.driver.SetupErr; err != nil {
		return err
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.registrations = append(p.registrations, Registration{
		RunID:          run.ID,
		TaskURL:        taskURL,
		Qualifications: args.Qualifications(),
	})
	return nil
}

// Registrations returns a copy of the recorded registrations.
func (p *StubProvider) Registrations() []Registration {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]Registration(nil), p.registrations...)
}
