// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package taskhive

// TaskArgs is the fully resolved configuration for one launch: a
// flat mapping from option name to validated value. It is assembled
// once by the operator's configuration resolver and treated as
// read-only afterwards.
type TaskArgs map[string]interface{}

// String returns the named option as a string, or "" if the option
// is absent or not a string.
func (a TaskArgs) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Bool returns the named option as a bool, or false if absent.
func (a TaskArgs) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Int returns the named option as an int, or 0 if absent. Values
// parsed from JSON arrive as float64 and are converted.
func (a TaskArgs) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns the named option as a float64, or 0 if absent.
func (a TaskArgs) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Qualifications returns the explicitly configured worker
// eligibility entries, or nil if none were supplied.
func (a TaskArgs) Qualifications() []Qualification {
	q, _ := a["qualifications"].([]Qualification)
	return q
}

// Copy returns a shallow copy. The resolver copies before applying
// programmatic overrides so callers' maps are never mutated.
func (a TaskArgs) Copy() TaskArgs {
	out := make(TaskArgs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
