// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package static implements a blueprint whose unit payloads come
// from a JSON data file, for tasks that show workers a fixed set of
// items.
package static

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/taskhive/taskhive/lib/blueprint"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// Driver is the registerable driver for the "static" blueprint type.
var Driver blueprint.Driver = &staticDriver{}

type staticDriver struct{}

func (d *staticDriver) Options() []taskhive.Option {
	return []taskhive.Option{
		{
			Name:     "data-json",
			Type:     taskhive.OptionString,
			Required: true,
			Help:     "Path to a JSON array of unit payload objects",
		},
		{
			Name:    "units-per-assignment",
			Type:    taskhive.OptionInt,
			Default: 1,
			Help:    "Number of consecutive payloads grouped into each assignment",
		},
	}
}

func (d *staticDriver) ValidateArgs(args taskhive.TaskArgs) error {
	if n := args.Int("units-per-assignment"); n < 1 {
		return fmt.Errorf("units-per-assignment must be >= 1, got %d", n)
	}
	_, err := loadPayloads(args.String("data-json"))
	return err
}

func (d *staticDriver) New(run taskhive.TaskRun, args taskhive.TaskArgs) (blueprint.Blueprint, error) {
	payloads, err := loadPayloads(args.String("data-json"))
	if err != nil {
		return nil, err
	}
	return &staticBlueprint{
		run:      run,
		payloads: payloads,
		perAsgn:  args.Int("units-per-assignment"),
	}, nil
}

func loadPayloads(path string) ([]map[string]interface{}, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data-json: %w", err)
	}
	var payloads []map[string]interface{}
	if err := json.Unmarshal(buf, &payloads); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%s contains no unit payloads", path)
	}
	return payloads, nil
}

type staticBlueprint struct {
	run      taskhive.TaskRun
	payloads []map[string]interface{}
	perAsgn  int
}

// InitializationData groups the file's payloads into assignments of
// perAsgn consecutive units, preserving file order.
func (bp *staticBlueprint) InitializationData() (interface{}, error) {
	var data []taskhive.InitializationData
	for start := 0; start < len(bp.payloads); start += bp.perAsgn {
		end := start + bp.perAsgn
		if end > len(bp.payloads) {
			end = len(bp.payloads)
		}
		data = append(data, taskhive.InitializationData{
			SharedData: map[string]interface{}{"task_run_id": bp.run.ID},
			UnitData:   bp.payloads[start:end],
		})
	}
	return data, nil
}
