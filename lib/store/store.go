// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package store defines the persistent entity store consumed by the
// operator, the dispatch supervisor, and the unit launcher.
package store

import (
	"context"
	"errors"

	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// ErrNotFound is returned by Find* and Get* methods when no matching
// record exists.
var ErrNotFound = errors.New("record not found")

// ErrExists is returned by Create* methods when a uniqueness
// constraint (e.g., task name, requester name) is violated. Callers
// doing find-or-create rely on this rather than in-memory locking:
// two overlapping creates for the same name yield exactly one record
// and one ErrExists.
var ErrExists = errors.New("record already exists")

// CreateRunParams carries the fields of a new task run record.
type CreateRunParams struct {
	TaskID        string
	RequesterID   string
	ArgString     string
	ProviderType  string
	BlueprintType string
	Sandbox       bool
}

// A Store provides durable storage for tasks, requesters, runs,
// assignments, and units. Identifiers are unique and never reused.
// All methods are safe for concurrent use.
type Store interface {
	CreateRequester(ctx context.Context, name, providerType string, sandbox bool) (string, error)
	FindRequester(ctx context.Context, name string) (taskhive.Requester, error)

	CreateTask(ctx context.Context, name, taskType string) (string, error)
	FindTask(ctx context.Context, name string) (taskhive.Task, error)

	CreateRun(ctx context.Context, params CreateRunParams) (string, error)
	GetRun(ctx context.Context, id string) (taskhive.TaskRun, error)
	SetRunCompleted(ctx context.Context, id string) error
	// IncompleteRuns returns all runs whose completion flag is
	// unset, oldest first.
	IncompleteRuns(ctx context.Context) ([]taskhive.TaskRun, error)

	CreateAssignment(ctx context.Context, runID string, index int, shared map[string]interface{}) (string, error)
	CreateUnit(ctx context.Context, assignmentID, runID string, index int, payload map[string]interface{}) (string, error)
	// UpdateUnitState sets the unit's state, and its task URL if
	// url is non-empty.
	UpdateUnitState(ctx context.Context, unitID string, state taskhive.UnitState, url string) error
	// UnitsForRun returns the run's units ordered by unit index.
	UnitsForRun(ctx context.Context, runID string) ([]taskhive.Unit, error)

	Close() error
}
