// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package operator

import (
	"github.com/taskhive/taskhive/lib/architect"
	architectlocal "github.com/taskhive/taskhive/lib/architect/local"
	"github.com/taskhive/taskhive/lib/blueprint"
	blueprintstatic "github.com/taskhive/taskhive/lib/blueprint/static"
	"github.com/taskhive/taskhive/lib/provider"
	providermock "github.com/taskhive/taskhive/lib/provider/mock"
)

// Plugin types are selected by name at launch time and resolved
// once, against these registries. Tests add their own entries.

// BlueprintDrivers maps blueprint type names to drivers.
var BlueprintDrivers = map[string]blueprint.Driver{
	"static": blueprintstatic.Driver,
}

// ArchitectDrivers maps architect type names to drivers.
var ArchitectDrivers = map[string]architect.Driver{
	"local": architectlocal.Driver,
}

// ProviderDrivers maps provider type names to drivers.
var ProviderDrivers = map[string]provider.Driver{
	"mock": providermock.Driver,
}
