// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package operator

import "fmt"

// MissingSelectorError indicates a launch argument vector without
// one of the three required selectors.
type MissingSelectorError struct {
	Selector string
}

func (e MissingSelectorError) Error() string {
	return fmt.Sprintf("missing required selector --%s", e.Selector)
}

// UnknownRequesterError indicates the requester name did not resolve
// against the store.
type UnknownRequesterError struct {
	Name string
}

func (e UnknownRequesterError) Error() string {
	return fmt.Sprintf("no requester found with name %q", e.Name)
}

// UnknownPluginTypeError indicates a selector named an unregistered
// blueprint, architect, or provider type.
type UnknownPluginTypeError struct {
	Kind string // "blueprint", "architect", or "provider"
	Name string
}

func (e UnknownPluginTypeError) Error() string {
	return fmt.Sprintf("unsupported %s type %q", e.Kind, e.Name)
}

// InvalidPluginArgsError indicates the resolved configuration failed
// a plugin's own semantic validation, or a declared option was
// missing or malformed.
type InvalidPluginArgsError struct {
	Plugin string
	Err    error
}

func (e InvalidPluginArgsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Plugin, e.Err)
}

func (e InvalidPluginArgsError) Unwrap() error { return e.Err }

// UnsupportedInitDataShapeError indicates the blueprint returned
// initialization data in a shape the launcher cannot materialize.
// Only an ordered []taskhive.InitializationData is supported.
type UnsupportedInitDataShapeError struct {
	Shape string
}

func (e UnsupportedInitDataShapeError) Error() string {
	return fmt.Sprintf("unsupported initialization data shape %s (want []taskhive.InitializationData)", e.Shape)
}

// DeploymentError indicates the architect failed before the run had
// reachable infrastructure. It always aborts the launch.
type DeploymentError struct {
	Stage string // "prepare" or "deploy"
	Err   error
}

func (e DeploymentError) Error() string {
	return fmt.Sprintf("architect %s failed: %s", e.Stage, e.Err)
}

func (e DeploymentError) Unwrap() error { return e.Err }

// PostDeployError indicates a failure after the run was already
// deployed (architect cleanup or provider registration). Whether it
// aborts the launch depends on the operator's
// AbortOnPostDeployFailure policy; otherwise it is logged and the
// run proceeds to tracking.
type PostDeployError struct {
	Stage string // "cleanup" or "provider registration"
	Err   error
}

func (e PostDeployError) Error() string {
	return fmt.Sprintf("%s failed after deploy: %s", e.Stage, e.Err)
}

func (e PostDeployError) Unwrap() error { return e.Err }
