// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package launcher materializes a run's initialization data into
// individually assignable work units.
package launcher

import (
	"context"
	"fmt"

	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// A Launcher creates and launches the assignments and units for one
// run. Methods are called in order: CreateAssignments, LaunchUnits,
// and (on forced shutdown) ExpireUnits.
type Launcher struct {
	store store.Store
	run   taskhive.TaskRun
	data  []taskhive.InitializationData

	unitIDs []string
}

// New returns a Launcher for the given run and initialization data.
func New(st store.Store, run taskhive.TaskRun, data []taskhive.InitializationData) *Launcher {
	return &Launcher{store: st, run: run, data: data}
}

// CreateAssignments persists one assignment per initialization data
// record, and one unit per payload within it, preserving order.
func (l *Launcher) CreateAssignments(ctx context.Context) error {
	for i, rec := range l.data {
		asgnID, err := l.store.CreateAssignment(ctx, l.run.ID, i, rec.SharedData)
		if err != nil {
			return fmt.Errorf("create assignment %d: %w", i, err)
		}
		for j, payload := range rec.UnitData {
			unitID, err := l.store.CreateUnit(ctx, asgnID, l.run.ID, j, payload)
			if err != nil {
				return fmt.Errorf("create unit %d of assignment %d: %w", j, i, err)
			}
			l.unitIDs = append(l.unitIDs, unitID)
		}
	}
	return nil
}

// LaunchUnits marks every created unit as launched against the given
// task URL, making it assignable to workers.
func (l *Launcher) LaunchUnits(ctx context.Context, taskURL string) error {
	for _, id := range l.unitIDs {
		if err := l.store.UpdateUnitState(ctx, id, taskhive.UnitLaunched, taskURL); err != nil {
			return fmt.Errorf("launch unit %s: %w", id, err)
		}
	}
	return nil
}

// ExpireUnits moves every non-terminal unit of the run to expired,
// so no new worker can start them. Calling it again, or calling it
// after all units completed, is a no-op.
func (l *Launcher) ExpireUnits(ctx context.Context) error {
	units, err := l.store.UnitsForRun(ctx, l.run.ID)
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}
	for _, unit := range units {
		if unit.State.Terminal() {
			continue
		}
		if err := l.store.UpdateUnitState(ctx, unit.ID, taskhive.UnitExpired, ""); err != nil {
			return fmt.Errorf("expire unit %s: %w", unit.ID, err)
		}
	}
	return nil
}
