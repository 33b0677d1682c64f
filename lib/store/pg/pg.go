// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package pg implements store.Store on PostgreSQL, for deployments
// where several operator hosts share one entity store.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	// sqlx needs lib/pq to talk to PostgreSQL; the pq error type
	// is also used to detect unique violations.
	"github.com/lib/pq"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS requesters (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL UNIQUE,
		provider_type text NOT NULL,
		sandbox boolean NOT NULL DEFAULT false)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL UNIQUE,
		task_type text NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS task_runs (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		task_id uuid NOT NULL REFERENCES tasks (id),
		requester_id uuid NOT NULL REFERENCES requesters (id),
		arg_string text NOT NULL,
		provider_type text NOT NULL,
		blueprint_type text NOT NULL,
		sandbox boolean NOT NULL DEFAULT false,
		completed boolean NOT NULL DEFAULT false,
		created_at timestamptz NOT NULL DEFAULT now())`,
	`CREATE TABLE IF NOT EXISTS assignments (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		task_run_id uuid NOT NULL REFERENCES task_runs (id),
		index integer NOT NULL,
		shared_data jsonb NOT NULL DEFAULT '{}')`,
	`CREATE TABLE IF NOT EXISTS units (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		assignment_id uuid NOT NULL REFERENCES assignments (id),
		task_run_id uuid NOT NULL REFERENCES task_runs (id),
		index integer NOT NULL,
		payload jsonb NOT NULL DEFAULT '{}',
		state text NOT NULL DEFAULT 'created',
		task_url text NOT NULL DEFAULT '')`,
	`CREATE INDEX IF NOT EXISTS units_task_run_id ON units (task_run_id)`,
}

// DB implements store.Store.
type DB struct {
	db *sqlx.DB
}

// Open connects to the given PostgreSQL DSN and creates any missing
// tables.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("set up schema: %w", err)
		}
	}
	return &DB{db: db}, nil
}

// Close implements store.Store.
func (s *DB) Close() error {
	return s.db.Close()
}

func mapErr(err error) error {
	var pqerr *pq.Error
	if errors.As(err, &pqerr) && string(pqerr.Code) == uniqueViolation {
		return store.ErrExists
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// CreateRequester implements store.Store.
func (s *DB) CreateRequester(ctx context.Context, name, providerType string, sandbox bool) (string, error) {
	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO requesters (name, provider_type, sandbox) VALUES ($1, $2, $3) RETURNING id`,
		name, providerType, sandbox).Scan(&id)
	return id, mapErr(err)
}

// FindRequester implements store.Store.
func (s *DB) FindRequester(ctx context.Context, name string) (taskhive.Requester, error) {
	var row struct {
		ID           string `db:"id"`
		Name         string `db:"name"`
		ProviderType string `db:"provider_type"`
		Sandbox      bool   `db:"sandbox"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, provider_type, sandbox FROM requesters WHERE name = $1`, name)
	if err != nil {
		return taskhive.Requester{}, mapErr(err)
	}
	return taskhive.Requester{ID: row.ID, Name: row.Name, ProviderType: row.ProviderType, Sandbox: row.Sandbox}, nil
}

// CreateTask implements store.Store. The tasks.name UNIQUE
// constraint is what makes the operator's find-or-create safe under
// concurrent launches.
func (s *DB) CreateTask(ctx context.Context, name, taskType string) (string, error) {
	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO tasks (name, task_type) VALUES ($1, $2) RETURNING id`,
		name, taskType).Scan(&id)
	return id, mapErr(err)
}

// FindTask implements store.Store.
func (s *DB) FindTask(ctx context.Context, name string) (taskhive.Task, error) {
	var row struct {
		ID       string `db:"id"`
		Name     string `db:"name"`
		TaskType string `db:"task_type"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, task_type FROM tasks WHERE name = $1`, name)
	if err != nil {
		return taskhive.Task{}, mapErr(err)
	}
	return taskhive.Task{ID: row.ID, Name: row.Name, TaskType: row.TaskType}, nil
}

// CreateRun implements store.Store.
func (s *DB) CreateRun(ctx context.Context, params store.CreateRunParams) (string, error) {
	var id string
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO task_runs (task_id, requester_id, arg_string, provider_type, blueprint_type, sandbox)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		params.TaskID, params.RequesterID, params.ArgString,
		params.ProviderType, params.BlueprintType, params.Sandbox).Scan(&id)
	return id, mapErr(err)
}

type runRow struct {
	ID            string `db:"id"`
	TaskID        string `db:"task_id"`
	RequesterID   string `db:"requester_id"`
	ArgString     string `db:"arg_string"`
	ProviderType  string `db:"provider_type"`
	BlueprintType string `db:"blueprint_type"`
	Sandbox       bool   `db:"sandbox"`
	Completed     bool   `db:"completed"`
}

func (r runRow) taskRun() taskhive.TaskRun {
	return taskhive.TaskRun{
		ID:            r.ID,
		TaskID:        r.TaskID,
		RequesterID:   r.RequesterID,
		ArgString:     r.ArgString,
		ProviderType:  r.ProviderType,
		BlueprintType: r.BlueprintType,
		Sandbox:       r.Sandbox,
		Completed:     r.Completed,
	}
}

const runColumns = `id, task_id, requester_id, arg_string, provider_type, blueprint_type, sandbox, completed`

// GetRun implements store.Store.
func (s *DB) GetRun(ctx context.Context, id string) (taskhive.TaskRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+runColumns+` FROM task_runs WHERE id = $1`, id)
	if err != nil {
		return taskhive.TaskRun{}, mapErr(err)
	}
	return row.taskRun(), nil
}

// SetRunCompleted implements store.Store.
func (s *DB) SetRunCompleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET completed = true WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncompleteRuns implements store.Store.
func (s *DB) IncompleteRuns(ctx context.Context) ([]taskhive.TaskRun, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM task_runs WHERE NOT completed ORDER BY created_at`)
	if err != nil {
		return nil, mapErr(err)
	}
	runs := make([]taskhive.TaskRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.taskRun())
	}
	return runs, nil
}

// CreateAssignment implements store.Store.
func (s *DB) CreateAssignment(ctx context.Context, runID string, index int, shared map[string]interface{}) (string, error) {
	buf, err := json.Marshal(shared)
	if err != nil {
		return "", err
	}
	var id string
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO assignments (task_run_id, index, shared_data) VALUES ($1, $2, $3) RETURNING id`,
		runID, index, buf).Scan(&id)
	return id, mapErr(err)
}

// CreateUnit implements store.Store.
func (s *DB) CreateUnit(ctx context.Context, assignmentID, runID string, index int, payload map[string]interface{}) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var id string
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO units (assignment_id, task_run_id, index, payload) VALUES ($1, $2, $3, $4) RETURNING id`,
		assignmentID, runID, index, buf).Scan(&id)
	return id, mapErr(err)
}

// UpdateUnitState implements store.Store.
func (s *DB) UpdateUnitState(ctx context.Context, unitID string, state taskhive.UnitState, url string) error {
	var (
		res sql.Result
		err error
	)
	if url == "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE units SET state = $2 WHERE id = $1`, unitID, state)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE units SET state = $2, task_url = $3 WHERE id = $1`, unitID, state, url)
	}
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UnitsForRun implements store.Store.
func (s *DB) UnitsForRun(ctx context.Context, runID string) ([]taskhive.Unit, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, assignment_id, task_run_id, index, payload, state, task_url
		 FROM units WHERE task_run_id = $1 ORDER BY index`, runID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var units []taskhive.Unit
	for rows.Next() {
		var (
			unit    taskhive.Unit
			payload []byte
			state   string
		)
		err = rows.Scan(&unit.ID, &unit.AssignmentID, &unit.TaskRunID, &unit.Index, &payload, &state, &unit.TaskURL)
		if err != nil {
			return nil, err
		}
		unit.State = taskhive.UnitState(state)
		if err = json.Unmarshal(payload, &unit.Payload); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}
