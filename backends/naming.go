// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "strings"

// ModuleSuffix is appended to the backend name in module file names, before the platform extension.
const ModuleSuffix = "_backend"

// ModuleFileName returns the file name of the module for the backend with the given name:
// "<prefix><lower-cased name>_backend<ext>", with prefix and extension of the platform.
// E.g.: "libcpu_backend.so" for "CPU" on linux.
func ModuleFileName(name string) string {
	return modulePrefix + strings.ToLower(name) + ModuleSuffix + moduleExtension
}

// ParseModuleFileName returns the backend name encoded in a module file name, and whether the file name
// follows the module naming convention (see ModuleFileName).
//
// Names that are empty, that contain ModuleSuffix themselves, a path separator or a ":" are rejected.
func ParseModuleFileName(fileName string) (name string, ok bool) {
	suffix := ModuleSuffix + moduleExtension
	if len(fileName) <= len(modulePrefix)+len(suffix) ||
		!strings.HasPrefix(fileName, modulePrefix) || !strings.HasSuffix(fileName, suffix) {
		return "", false
	}
	name = fileName[len(modulePrefix) : len(fileName)-len(suffix)]
	if strings.Contains(name, ModuleSuffix) || strings.ContainsAny(name, `/\:`) {
		return "", false
	}
	return name, true
}

// backendName returns the upper-cased name part of a descriptor "<name>[:<attributes>]".
func backendName(descriptor string) string {
	name, _, _ := strings.Cut(descriptor, ":")
	return strings.ToUpper(strings.TrimSpace(name))
}
