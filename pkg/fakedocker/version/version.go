// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package version

// Version is set at build time with -ldflags "-X ...version.Version=v0.1.0"
var Version = "develop"
