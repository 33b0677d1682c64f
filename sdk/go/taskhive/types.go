// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package taskhive provides the data model shared by the operator,
// the dispatch supervisor, and the pluggable blueprint, architect,
// and crowd provider implementations.
package taskhive

// A Task is the durable record for a named task. Many TaskRuns may
// be launched against one Task.
type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TaskType string `json:"task_type"`
}

// A Requester identifies who is paying for and responsible for a
// run. Its ProviderType determines which crowd provider integration
// is used for every run it launches.
type Requester struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProviderType string `json:"provider_type"`
	Sandbox      bool   `json:"sandbox"`
}

// A TaskRun is one execution instance of a Task. It is created once
// at launch and never recreated; the runtime flips Completed when
// all of the run's units have reached a terminal state.
type TaskRun struct {
	ID            string `json:"id"`
	TaskID        string `json:"task_id"`
	RequesterID   string `json:"requester_id"`
	ArgString     string `json:"arg_string"`
	ProviderType  string `json:"provider_type"`
	BlueprintType string `json:"blueprint_type"`
	Sandbox       bool   `json:"sandbox"`
	Completed     bool   `json:"completed"`
}

// An Assignment groups the units materialized from one
// initialization data record. All units in an assignment share the
// record's shared data.
type Assignment struct {
	ID         string                 `json:"id"`
	TaskRunID  string                 `json:"task_run_id"`
	Index      int                    `json:"index"`
	SharedData map[string]interface{} `json:"shared_data"`
}

// UnitState is the lifecycle state of a single assignable work unit.
type UnitState string

const (
	UnitCreated   UnitState = "created"
	UnitLaunched  UnitState = "launched"
	UnitCompleted UnitState = "completed"
	UnitExpired   UnitState = "expired"
)

// Terminal reports whether no further worker activity is possible
// for a unit in this state.
func (s UnitState) Terminal() bool {
	return s == UnitCompleted || s == UnitExpired
}

// A Unit is one assignable piece of work within a run.
type Unit struct {
	ID           string                 `json:"id"`
	AssignmentID string                 `json:"assignment_id"`
	TaskRunID    string                 `json:"task_run_id"`
	Index        int                    `json:"index"`
	Payload      map[string]interface{} `json:"payload"`
	State        UnitState              `json:"state"`
	TaskURL      string                 `json:"task_url"`
}

// InitializationData is one record of blueprint-supplied launch
// data: shared task-level data plus the payloads for each unit to
// materialize under a single assignment.
type InitializationData struct {
	SharedData map[string]interface{}   `json:"shared_data"`
	UnitData   []map[string]interface{} `json:"unit_data"`
}

// OptionType is the value type of a declared plugin option.
type OptionType string

const (
	OptionString OptionType = "string"
	OptionBool   OptionType = "bool"
	OptionInt    OptionType = "int"
	OptionFloat  OptionType = "float"
)

// An Option is a single command line option declared by a blueprint,
// architect, or provider implementation (or by the generic task
// option group). The operator merges the declared option groups of
// all selected plugins into one parser.
type Option struct {
	Name     string
	Type     OptionType
	Default  interface{}
	Required bool
	Help     string
}
