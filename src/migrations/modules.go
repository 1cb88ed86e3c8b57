package migrations

import "sync"

var (
	modulesMu sync.Mutex
	modules   []Module
)

// Add registers a module for binaries that build their chain from the
// package-level list, usually from an init function.
func Add(m Module) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = append(modules, m)
}

// Modules returns a copy of the registered modules.
func Modules() []Module {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	return append([]Module(nil), modules...)
}
