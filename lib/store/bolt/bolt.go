// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package bolt implements store.Store on an embedded bbolt database
// file. It is the default backend for single-host deployments and
// for tests.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
	bolt "go.etcd.io/bbolt"
)

var (
	bktRequesters       = []byte("requesters")
	bktRequestersByName = []byte("requestersByName")
	bktTasks            = []byte("tasks")
	bktTasksByName      = []byte("tasksByName")
	bktRuns             = []byte("runs")
	bktAssignments      = []byte("assignments")
	bktUnits            = []byte("units")
	bktUnitsByRun       = []byte("unitsByRun")
)

// DB implements store.Store.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the database file at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bktRequesters, bktRequestersByName,
			bktTasks, bktTasksByName,
			bktRuns, bktAssignments, bktUnits, bktUnitsByRun,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close releases the underlying database file.
func (s *DB) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), buf)
}

func get(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	buf := tx.Bucket(bucket).Get([]byte(key))
	if buf == nil {
		return store.ErrNotFound
	}
	return json.Unmarshal(buf, v)
}

// CreateRequester implements store.Store. Requester names are
// unique.
func (s *DB) CreateRequester(ctx context.Context, name, providerType string, sandbox bool) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		byName := tx.Bucket(bktRequestersByName)
		if byName.Get([]byte(name)) != nil {
			return store.ErrExists
		}
		if err := byName.Put([]byte(name), []byte(id)); err != nil {
			return err
		}
		return put(tx, bktRequesters, id, taskhive.Requester{
			ID:           id,
			Name:         name,
			ProviderType: providerType,
			Sandbox:      sandbox,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// FindRequester implements store.Store.
func (s *DB) FindRequester(ctx context.Context, name string) (taskhive.Requester, error) {
	var req taskhive.Requester
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bktRequestersByName).Get([]byte(name))
		if id == nil {
			return store.ErrNotFound
		}
		return get(tx, bktRequesters, string(id), &req)
	})
	return req, err
}

// CreateTask implements store.Store. Task names are unique; a
// concurrent create for the same name returns ErrExists, so
// find-or-create callers converge on one record.
func (s *DB) CreateTask(ctx context.Context, name, taskType string) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		byName := tx.Bucket(bktTasksByName)
		if byName.Get([]byte(name)) != nil {
			return store.ErrExists
		}
		if err := byName.Put([]byte(name), []byte(id)); err != nil {
			return err
		}
		return put(tx, bktTasks, id, taskhive.Task{ID: id, Name: name, TaskType: taskType})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// FindTask implements store.Store.
func (s *DB) FindTask(ctx context.Context, name string) (taskhive.Task, error) {
	var task taskhive.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bktTasksByName).Get([]byte(name))
		if id == nil {
			return store.ErrNotFound
		}
		return get(tx, bktTasks, string(id), &task)
	})
	return task, err
}

// CreateRun implements store.Store.
func (s *DB) CreateRun(ctx context.Context, params store.CreateRunParams) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bktRuns, id, taskhive.TaskRun{
			ID:            id,
			TaskID:        params.TaskID,
			RequesterID:   params.RequesterID,
			ArgString:     params.ArgString,
			ProviderType:  params.ProviderType,
			BlueprintType: params.BlueprintType,
			Sandbox:       params.Sandbox,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetRun implements store.Store.
func (s *DB) GetRun(ctx context.Context, id string) (taskhive.TaskRun, error) {
	var run taskhive.TaskRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bktRuns, id, &run)
	})
	return run, err
}

// SetRunCompleted implements store.Store.
func (s *DB) SetRunCompleted(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var run taskhive.TaskRun
		if err := get(tx, bktRuns, id, &run); err != nil {
			return err
		}
		run.Completed = true
		return put(tx, bktRuns, id, run)
	})
}

// IncompleteRuns implements store.Store.
func (s *DB) IncompleteRuns(ctx context.Context) ([]taskhive.TaskRun, error) {
	var runs []taskhive.TaskRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bktRuns).ForEach(func(k, v []byte) error {
			var run taskhive.TaskRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if !run.Completed {
				runs = append(runs, run)
			}
			return nil
		})
	})
	return runs, err
}

// CreateAssignment implements store.Store.
func (s *DB) CreateAssignment(ctx context.Context, runID string, index int, shared map[string]interface{}) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bktAssignments, id, taskhive.Assignment{
			ID:         id,
			TaskRunID:  runID,
			Index:      index,
			SharedData: shared,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateUnit implements store.Store.
func (s *DB) CreateUnit(ctx context.Context, assignmentID, runID string, index int, payload map[string]interface{}) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := put(tx, bktUnits, id, taskhive.Unit{
			ID:           id,
			AssignmentID: assignmentID,
			TaskRunID:    runID,
			Index:        index,
			Payload:      payload,
			State:        taskhive.UnitCreated,
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bktUnitsByRun).Put(runKey(runID, id), nil)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateUnitState implements store.Store.
func (s *DB) UpdateUnitState(ctx context.Context, unitID string, state taskhive.UnitState, url string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var unit taskhive.Unit
		if err := get(tx, bktUnits, unitID, &unit); err != nil {
			return err
		}
		unit.State = state
		if url != "" {
			unit.TaskURL = url
		}
		return put(tx, bktUnits, unitID, unit)
	})
}

// UnitsForRun implements store.Store.
func (s *DB) UnitsForRun(ctx context.Context, runID string) ([]taskhive.Unit, error) {
	var units []taskhive.Unit
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bktUnitsByRun).Cursor()
		prefix := runKey(runID, "")
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			unitID := string(k[len(prefix):])
			var unit taskhive.Unit
			if err := get(tx, bktUnits, unitID, &unit); err != nil {
				return err
			}
			units = append(units, unit)
		}
		return nil
	})
	// The by-run bucket is keyed by unit ID; order by unit index
	// to match the SQL backend.
	sort.SliceStable(units, func(i, j int) bool { return units[i].Index < units[j].Index })
	return units, err
}

func runKey(runID, unitID string) []byte {
	return []byte(runID + "/" + unitID)
}
