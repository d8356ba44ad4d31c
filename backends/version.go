// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Version of the backend interface. Backend modules are only accepted if their GetVersionString
// returns exactly this value.
//
// It can be set at build time with:
//
//	go build -ldflags "-X github.com/gomlx/graphcore/backends.Version=v1.2.3"
var Version = "v0.1.0"
