package radio

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds a concrete radio driver. Driver packages register
// themselves from an init function, database/sql style, so the core
// never links vendor code directly.
type Factory func(cfg DeviceConfig, logger *slog.Logger) (Radio, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a driver available under a name. It panics on
// duplicates, mirroring database/sql.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("radio: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("radio: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the named driver.
func Open(name string, cfg DeviceConfig, logger *slog.Logger) (Radio, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("radio: unknown driver %q (registered: %v)", name, Drivers())
	}
	return factory(cfg, logger)
}
