// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package operator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/pflag"
	"github.com/taskhive/taskhive/lib/architect"
	"github.com/taskhive/taskhive/lib/blueprint"
	"github.com/taskhive/taskhive/lib/provider"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

const (
	selBlueprintType = "blueprint-type"
	selArchitectType = "architect-type"
	selRequesterName = "requester-name"
)

// taskOptions is the generic task metadata option group, merged into
// every launch parser alongside the selected plugins' option groups.
var taskOptions = []taskhive.Option{
	{Name: "task-name", Type: taskhive.OptionString,
		Help: "Name grouping this run with other runs of the same task (defaults to the blueprint type)"},
	{Name: "task-title", Type: taskhive.OptionString,
		Help: "Title shown to workers"},
	{Name: "task-description", Type: taskhive.OptionString,
		Help: "Description shown to workers"},
	{Name: "task-reward", Type: taskhive.OptionFloat, Default: 0.0,
		Help: "Payment per completed unit, in the provider's currency"},
	{Name: "task-tags", Type: taskhive.OptionString,
		Help: "Comma separated keywords workers can search by"},
	{Name: "block-qualification", Type: taskhive.OptionString,
		Help: "Qualification name used to block workers from this requester's tasks"},
	{Name: "onboarding-qualification", Type: taskhive.OptionString,
		Help: "Qualification name tracking onboarding; workers holding the derived failed qualification are excluded"},
}

type selectors struct {
	BlueprintType string
	ArchitectType string
	RequesterName string
}

// splitFlag splits "--name=value" / "--name" tokens. name is ""
// for tokens that are not long flags.
func splitFlag(arg string) (name, value string, hasValue bool) {
	if !strings.HasPrefix(arg, "--") || arg == "--" {
		return "", "", false
	}
	body := strings.TrimPrefix(arg, "--")
	if i := strings.Index(body, "="); i >= 0 {
		return body[:i], body[i+1:], true
	}
	return body, "", false
}

// parseSelectors extracts the three required selectors from the
// argument vector, returning the remaining arguments unchanged and
// in order.
func parseSelectors(argv []string) (selectors, []string, error) {
	var sel selectors
	want := map[string]*string{
		selBlueprintType: &sel.BlueprintType,
		selArchitectType: &sel.ArchitectType,
		selRequesterName: &sel.RequesterName,
	}
	var rest []string
	for i := 0; i < len(argv); i++ {
		name, value, hasValue := splitFlag(argv[i])
		dst, ok := want[name]
		if !ok {
			rest = append(rest, argv[i])
			continue
		}
		if hasValue {
			*dst = value
		} else if i+1 < len(argv) {
			i++
			*dst = argv[i]
		}
	}
	for _, name := range []string{selBlueprintType, selArchitectType, selRequesterName} {
		if *want[name] == "" {
			return selectors{}, nil, MissingSelectorError{Selector: name}
		}
	}
	return sel, rest, nil
}

// optionGroup is one plugin's declared options, with the owner name
// kept for error attribution.
type optionGroup struct {
	owner   string
	options []taskhive.Option
}

// resolveTaskArgs parses argv against the merged option groups.
// Tokens for undeclared options are not an error; they are preserved
// verbatim, in order, for forward compatibility.
func resolveTaskArgs(argv []string, groups []optionGroup) (taskhive.TaskArgs, []string, error) {
	declared := map[string]taskhive.Option{}
	owners := map[string]string{}
	for _, group := range groups {
		for _, opt := range group.options {
			if prev, dup := owners[opt.Name]; dup && prev != group.owner {
				return nil, nil, fmt.Errorf("option --%s declared by both %s and %s", opt.Name, prev, group.owner)
			}
			declared[opt.Name] = opt
			owners[opt.Name] = group.owner
		}
	}

	var known, unknown []string
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		name, _, hasValue := splitFlag(arg)
		opt, ok := declared[name]
		if !ok {
			unknown = append(unknown, arg)
			// An undeclared flag's separate value token
			// stays with it.
			if name != "" && !hasValue && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "--") {
				i++
				unknown = append(unknown, argv[i])
			}
			continue
		}
		known = append(known, arg)
		if !hasValue && opt.Type != taskhive.OptionBool && i+1 < len(argv) {
			i++
			known = append(known, argv[i])
		}
	}

	fs := pflag.NewFlagSet("launch", pflag.ContinueOnError)
	values := map[string]interface{}{}
	for name, opt := range declared {
		switch opt.Type {
		case taskhive.OptionBool:
			def, _ := opt.Default.(bool)
			values[name] = fs.Bool(name, def, opt.Help)
		case taskhive.OptionInt:
			def, _ := opt.Default.(int)
			values[name] = fs.Int(name, def, opt.Help)
		case taskhive.OptionFloat:
			def, _ := opt.Default.(float64)
			values[name] = fs.Float64(name, def, opt.Help)
		default:
			def, _ := opt.Default.(string)
			values[name] = fs.String(name, def, opt.Help)
		}
	}
	if err := fs.Parse(known); err != nil {
		return nil, nil, fmt.Errorf("parse arguments: %w", err)
	}
	for _, group := range groups {
		for _, opt := range group.options {
			if opt.Required && !fs.Changed(opt.Name) {
				return nil, nil, InvalidPluginArgsError{
					Plugin: group.owner,
					Err:    fmt.Errorf("option --%s is required", opt.Name),
				}
			}
		}
	}

	args := taskhive.TaskArgs{}
	for name, opt := range declared {
		if !fs.Changed(name) && opt.Default == nil {
			continue
		}
		switch ptr := values[name].(type) {
		case *bool:
			args[name] = *ptr
		case *int:
			args[name] = *ptr
		case *float64:
			args[name] = *ptr
		case *string:
			args[name] = *ptr
		}
	}
	return args, unknown, nil
}

// resolvedConfig is the outcome of a successful resolution: all
// plugin drivers looked up, every option parsed and validated, and
// nothing created anywhere yet.
type resolvedConfig struct {
	selectors       selectors
	requester       taskhive.Requester
	blueprintDriver blueprint.Driver
	architectDriver architect.Driver
	providerDriver  provider.Driver
	args            taskhive.TaskArgs
	unknownArgs     []string
	taskArgv        []string // argv minus the selectors, as given
}

// resolveConfig validates a launch request end to end without side
// effects: selector extraction, requester resolution, plugin lookup,
// option parsing, programmatic overrides, then each plugin's own
// semantic validation in a fixed order (blueprint, architect,
// provider) so the cheap, local checks run before anything stateful.
func (op *Operator) resolveConfig(ctx context.Context, argv []string, overrides taskhive.TaskArgs) (*resolvedConfig, error) {
	sel, rest, err := parseSelectors(argv)
	if err != nil {
		return nil, err
	}

	requester, err := op.Store.FindRequester(ctx, sel.RequesterName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, UnknownRequesterError{Name: sel.RequesterName}
	} else if err != nil {
		return nil, fmt.Errorf("look up requester: %w", err)
	}

	blueprintDriver, ok := BlueprintDrivers[sel.BlueprintType]
	if !ok {
		return nil, UnknownPluginTypeError{Kind: "blueprint", Name: sel.BlueprintType}
	}
	architectDriver, ok := ArchitectDrivers[sel.ArchitectType]
	if !ok {
		return nil, UnknownPluginTypeError{Kind: "architect", Name: sel.ArchitectType}
	}
	// The provider type comes from the stored requester, not from
	// a selector.
	providerDriver, ok := ProviderDrivers[requester.ProviderType]
	if !ok {
		return nil, UnknownPluginTypeError{Kind: "provider", Name: requester.ProviderType}
	}

	groups := []optionGroup{
		{owner: "blueprint " + sel.BlueprintType, options: blueprintDriver.Options()},
		{owner: "architect " + sel.ArchitectType, options: architectDriver.Options()},
		{owner: "provider " + requester.ProviderType, options: providerDriver.Options()},
		{owner: "task", options: taskOptions},
	}
	args, unknown, err := resolveTaskArgs(rest, groups)
	if err != nil {
		return nil, err
	}
	// Config file defaults fill gaps; they never win over parsed
	// values, even explicitly given zero/empty ones, so presence is
	// what matters here, not emptiness.
	for name, value := range op.DefaultTaskArgs {
		if _, given := args[name]; !given {
			args[name] = value
		}
	}
	if len(overrides) > 0 {
		if err := mergo.Merge(&args, overrides.Copy(), mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	for _, v := range []struct {
		owner  string
		driver interface {
			ValidateArgs(taskhive.TaskArgs) error
		}
	}{
		{groups[0].owner, blueprintDriver},
		{groups[1].owner, architectDriver},
		{groups[2].owner, providerDriver},
	} {
		if err := v.driver.ValidateArgs(args); err != nil {
			return nil, InvalidPluginArgsError{Plugin: v.owner, Err: err}
		}
	}

	return &resolvedConfig{
		selectors:       sel,
		requester:       requester,
		blueprintDriver: blueprintDriver,
		architectDriver: architectDriver,
		providerDriver:  providerDriver,
		args:            args,
		unknownArgs:     unknown,
		taskArgv:        rest,
	}, nil
}
