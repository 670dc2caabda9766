// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"fmt"
	"sort"
	"sync"
)

// OpenFunc opens a fresh Display connection.
type OpenFunc func() (Display, error)

var (
	driversMu sync.Mutex
	drivers   = make(map[string]OpenFunc)
)

// RegisterDriver makes a display driver available to OpenDriver under
// the given name. Drivers register from an init function; registering
// the same name twice panics.
func RegisterDriver(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("compositor: driver %q registered twice", name))
	}
	drivers[name] = open
}

// OpenDriver opens a Display via the named registered driver.
func OpenDriver(name string) (Display, error) {
	driversMu.Lock()
	open, exists := drivers[name]
	driversMu.Unlock()
	if !exists {
		return nil, fmt.Errorf("compositor: unknown driver %q (registered: %v)", name, DriverNames())
	}
	return open()
}

// DriverNames returns the registered driver names, sorted.
func DriverNames() []string {
	driversMu.Lock()
	defer driversMu.Unlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
