// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package taskhive

// QualComparator compares a worker's granted qualification value
// against a required value.
type QualComparator string

const (
	QualExists      QualComparator = "Exists"
	QualNotExist    QualComparator = "DoesNotExist"
	QualEqual       QualComparator = "EqualTo"
	QualNotEqual    QualComparator = "NotEqualTo"
	QualGreaterThan QualComparator = "GreaterThan"
	QualLessThan    QualComparator = "LessThan"
	QualInList      QualComparator = "In"
	QualNotInList   QualComparator = "NotIn"
)

// A Qualification restricts which workers may accept a run's units.
// The crowd provider receives the run's full qualification list
// exactly once, during resource setup.
type Qualification struct {
	Name       string         `json:"qualification_name"`
	Comparator QualComparator `json:"comparator"`
	Value      interface{}    `json:"value,omitempty"`
}

// OnboardingFailedQual returns the name of the qualification granted
// to workers who fail the named onboarding flow. Runs configured
// with an onboarding qualification exclude workers holding the
// derived name.
func OnboardingFailedQual(onboardingQual string) string {
	return onboardingQual + "-failed"
}
