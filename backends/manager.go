// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/graphcore/types"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// ManagerConfig configures a Manager. The zero value is a valid configuration.
type ManagerConfig struct {
	// SearchDir is the directory scanned for backend modules. If empty, the environment variable
	// GRAPHCORE_BACKEND_LIBRARY_PATH is used and, if not set, the directory of the running executable.
	SearchDir string

	// Version backend modules must match. If empty, the package Version is used.
	Version string

	// Loader used to open modules. If nil, PluginLoader is used.
	Loader ModuleLoader
}

// Manager is a registry of backends: static constructors registered in-process and backend modules
// discovered in a search directory.
//
// It is safe for concurrent use.
type Manager struct {
	config ManagerConfig

	// mu guards everything below, and all module loading.
	mu           sync.Mutex
	constructors map[string]Constructor
	firstName    string
	discovered   map[string]string
	skipped      error

	// modules opened to create backends, by path. They are never closed.
	modules map[string]DynamicModule
}

// NewManager returns a new Manager with no backends registered.
func NewManager(config ManagerConfig) *Manager {
	if config.Loader == nil {
		config.Loader = PluginLoader
	}
	return &Manager{
		config:       config,
		constructors: make(map[string]Constructor),
		discovered:   make(map[string]string),
		modules:      make(map[string]DynamicModule),
	}
}

var (
	defaultManagerOnce sync.Once
	defaultManager     *Manager
)

// DefaultManager returns the process-wide manager used by the package functions Register, Create, etc.
// It is created on first use.
func DefaultManager() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager(ManagerConfig{})
	})
	return defaultManager
}

// SearchDir returns the directory scanned for backend modules.
func (m *Manager) SearchDir() string {
	if m.config.SearchDir != "" {
		return m.config.SearchDir
	}
	if dir, found := os.LookupEnv(GRAPHCORE_BACKEND_LIBRARY_PATH); found && dir != "" {
		return dir
	}
	executable, err := os.Executable()
	if err != nil {
		klog.Warningf("backends: failed to find the path of the executable, searching modules in the current directory: %v", err)
		return "."
	}
	return filepath.Dir(executable)
}

func (m *Manager) version() string {
	if m.config.Version != "" {
		return m.config.Version
	}
	return Version
}

// Register a static backend constructor. The name is case-insensitive, and registering the same name
// again replaces the previous constructor. Static backends take precedence over modules of the same name.
func (m *Manager) Register(name string, constructor Constructor) {
	name = backendName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.constructors) == 0 {
		m.firstName = name
	}
	m.constructors[name] = constructor
}

func (m *Manager) firstRegistered() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstName
}

// Create a backend from its descriptor "<name>[:<attributes>]".
//
// The name (case-insensitive) selects first a static constructor. Otherwise, the backend module is taken
// from the last discovery (see DiscoverAvailable) or, if not discovered, from the module naming convention
// in the search directory (see ModuleFileName), falling back to a new scan of the search directory.
//
// The constructor receives the full descriptor. Backends created from modules are released by calling the
// module's DeleteBackend exactly once, when Finalize is called or when the backend is garbage collected.
//
// Errors wrap ErrBackendNotFound, ErrBackendEntryPointMissing or ErrBackendVersionMismatch, or are the
// errors returned by the backend constructor.
func (m *Manager) Create(descriptor string) (Backend, error) {
	name := backendName(descriptor)
	if name == "" {
		return nil, errors.Wrapf(ErrBackendNotFound, "empty backend name in descriptor %q", descriptor)
	}

	if constructor, found := m.staticConstructor(name); found {
		klog.V(2).Infof("backends: creating static backend %q", descriptor)
		backend, err := constructor(descriptor)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to create backend %q", descriptor)
		}
		return backend, nil
	}
	entries, path, err := m.loadModule(name)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", descriptor)
	}

	klog.V(2).Infof("backends: creating backend %q from module %q", descriptor, path)
	backend, err := entries.newBackend(descriptor)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend module %q failed to create backend %q", path, descriptor)
	}
	if backend == nil {
		return nil, errors.Errorf("backend module %q returned a nil backend for %q", path, descriptor)
	}
	return newModuleBackend(backend, entries, path), nil
}

func (m *Manager) staticConstructor(name string) (Constructor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	constructor, found := m.constructors[name]
	return constructor, found
}

// loadModule opens and validates the module of the backend name.
func (m *Manager) loadModule(name string) (*entryPoints, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadModuleLocked(name)
}

// loadModuleLocked opens and validates the module of the backend name. m.mu must be held.
//
// If the backend was not discovered and its module is not found under the conventional (lower-cased)
// file name, the search directory is scanned again: module file names may use any case.
func (m *Manager) loadModuleLocked(name string) (*entryPoints, string, error) {
	path, found := m.discovered[name]
	if !found {
		path = filepath.Join(m.SearchDir(), ModuleFileName(name))
		if _, err := os.Stat(path); err != nil {
			if scanErr := m.scanLocked(); scanErr == nil {
				if discoveredPath, ok := m.discovered[name]; ok {
					path = discoveredPath
				}
			}
		}
	}
	module, found := m.modules[path]
	if !found {
		if _, err := os.Stat(path); err != nil {
			return nil, path, errors.Wrapf(ErrBackendNotFound, "no backend registered as %q, and module %q not available: %v", name, path, err)
		}
		var err error
		module, err = openModule(m.config.Loader, path)
		if err != nil {
			return nil, path, errors.Wrapf(ErrBackendNotFound, "failed to open module %q for backend %q: %v", path, name, err)
		}
	}
	entries, err := validateModule(module, m.version())
	if err != nil {
		if !found {
			_ = closeModule(module)
		}
		return nil, path, err
	}
	m.modules[path] = module
	return entries, path, nil
}

// DiscoverAvailable scans the search directory for backend modules, and returns the map of the
// (upper-cased) names of the valid ones to their paths. The result is also cached, and used by Create.
//
// Each module found is opened to check its entry points and version, and closed afterward.
// Invalid modules are skipped and logged: their errors are available with SkippedModules.
// Only failing to read the directory is returned as an error.
func (m *Manager) DiscoverAvailable() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.scanLocked(); err != nil {
		return nil, err
	}
	return maps.Clone(m.discovered), nil
}

func (m *Manager) scanLocked() error {
	dir := m.SearchDir()
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to scan directory %q for backend modules", dir)
	}
	discovered := make(map[string]string)
	var skipped error
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		moduleName, ok := ParseModuleFileName(dirEntry.Name())
		if !ok {
			continue
		}
		name := backendName(moduleName)
		path := filepath.Join(dir, dirEntry.Name())
		if previous, found := discovered[name]; found {
			skipped = multierr.Append(skipped, errors.Errorf("module %q skipped: backend %q already provided by %q", path, name, previous))
			continue
		}
		if err := m.probeLocked(path); err != nil {
			klog.V(1).Infof("backends: skipping module %q: %v", path, err)
			skipped = multierr.Append(skipped, err)
			continue
		}
		if info, err := dirEntry.Info(); err == nil {
			klog.V(2).Infof("backends: found backend %q in %q (%s)", name, path, humanize.Bytes(uint64(info.Size())))
		}
		discovered[name] = path
	}
	m.discovered = discovered
	m.skipped = skipped
	klog.V(1).Infof("backends: discovered %d backend module(s) in %q, skipped %d", len(discovered), dir, len(multierr.Errors(skipped)))
	return nil
}

// probeLocked opens the module at path, checks it and closes it. Panics in the module's code are
// returned as errors, so one broken module doesn't abort the scan.
func (m *Manager) probeLocked(path string) error {
	module, err := openModule(m.config.Loader, path)
	if err != nil {
		return errors.WithMessagef(err, "failed to open module %q", path)
	}
	_, err = validateModule(module, m.version())
	if closeErr := closeModule(module); closeErr != nil {
		err = multierr.Append(err, errors.Wrapf(closeErr, "failed to close module %q", path))
	}
	return err
}

// SkippedModules returns the errors of the modules skipped in the last discovery, combined with
// go.uber.org/multierr, or nil if none were skipped. Use multierr.Errors to list them.
func (m *Manager) SkippedModules() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipped
}

// RegisteredDevices returns the sorted names of the statically registered backends plus the backends
// available as modules in the search directory. If the scan fails, the static names are returned along
// with the error.
func (m *Manager) RegisteredDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.scanLocked()
	names := types.MakeSet[string](len(m.constructors) + len(m.discovered))
	names.Insert(slices.Collect(maps.Keys(m.constructors))...)
	if err == nil {
		names.Insert(slices.Collect(maps.Keys(m.discovered))...)
	}
	return types.SortedKeys(names), err
}
