// Package registry holds the two smallest core components: the Window
// Registry (per-action scheduling-hint windows) and the Model Table
// (the ML-model catalog the pre-load planner scores against). Both are
// mutex-guarded maps, following the shape of
// Wingie-beta9/pkg/gateway/model_registry.go's ModelRegistry.
package registry

import (
	"sync"
	"time"
)

// Window bundles the four per-function scheduling hints sourced from
// each activation message.
type Window struct {
	PreWarm   time.Duration
	KeepAlive time.Duration
	PreLoad   time.Duration
	OffLoad   time.Duration
}

// WindowRegistry is the process-wide mapping action -> Window, populated
// from activation messages on every Run.
type WindowRegistry struct {
	mu      sync.RWMutex
	windows map[string]Window
}

// NewWindowRegistry creates an empty registry.
func NewWindowRegistry() *WindowRegistry {
	return &WindowRegistry{windows: make(map[string]Window)}
}

// Update records the window for actionKey ("namespace/action").
func (r *WindowRegistry) Update(actionKey string, w Window) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[actionKey] = w
}

// Get returns the window for actionKey and whether it has ever been seen.
func (r *WindowRegistry) Get(actionKey string) (Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[actionKey]
	return w, ok
}
