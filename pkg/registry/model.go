package registry

import (
	"math"
	"sync"
	"time"
)

// ModelData describes one ML model known to the invoker: the action that
// exercises it, its size and loading cost, and the derived fields the
// bin-packing planner scores against.
type ModelData struct {
	ActionName          string
	ModelName           string
	ModelLoadingLatency time.Duration
	Lambda              float64 // arrival rate, updated per invocation

	// Derived fields, recomputed by UpdateAllDerived.
	ArrivalProbability   float64
	ExpectedSavedLatency time.Duration

	ModelSize int64 // MB

	// Supplemental bookkeeping, mirrors
	// pkg/gateway ModelInfo.RequestCount/LastUsed.
	RequestCount int64
	LastUsed     time.Time
}

// ModelTable is the in-memory catalog of known inference models, keyed
// by actionName. Mirrors the RWMutex-guarded map shape of
// Wingie-beta9/pkg/gateway/model_registry.go's ModelRegistry.
type ModelTable struct {
	mu     sync.RWMutex
	models map[string]*ModelData
}

// NewModelTable creates a table seeded with the given models (static at
// boot, per spec).
func NewModelTable(seed []*ModelData) *ModelTable {
	t := &ModelTable{models: make(map[string]*ModelData, len(seed))}
	for _, m := range seed {
		t.models[m.ActionName] = m
	}
	return t
}

// FindByActionName returns the model registered for actionName, if any.
func (t *ModelTable) FindByActionName(actionName string) (*ModelData, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.models[actionName]
	return m, ok
}

// FindByModelName returns the first model matching modelName,
// independent of the action that owns it. The planner does not call it;
// it reads Snapshot instead.
func (t *ModelTable) FindByModelName(modelName string) (*ModelData, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.models {
		if m.ModelName == modelName {
			return m, true
		}
	}
	return nil, false
}

// UpdateLambda updates the arrival-rate estimate for an action's model.
func (t *ModelTable) UpdateLambda(actionName string, lambda float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.models[actionName]; ok {
		m.Lambda = lambda
	}
}

// RecordUsage bumps a model's request counter and last-used timestamp.
func (t *ModelTable) RecordUsage(actionName string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.models[actionName]; ok {
		m.RequestCount++
		m.LastUsed = now
	}
}

// UpdateAllDerived recomputes ArrivalProbability and ExpectedSavedLatency
// for every model given a window (in the same time unit as Lambda):
//
//	ArrivalProbability   = 1 - exp(-Lambda*window)
//	ExpectedSavedLatency = ArrivalProbability * ModelLoadingLatency
func (t *ModelTable) UpdateAllDerived(window float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.models {
		p := 1 - math.Exp(-m.Lambda*window)
		m.ArrivalProbability = p
		m.ExpectedSavedLatency = time.Duration(p * float64(m.ModelLoadingLatency))
	}
}

// Snapshot returns a value-copy list of all models, so callers (the
// bin-packing planner) can sort/scan without holding the table lock,
// mirroring Wingie-beta9/pkg/agent/state.go's GetSnapshot pattern.
func (t *ModelTable) Snapshot() []ModelData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ModelData, 0, len(t.models))
	for _, m := range t.models {
		out = append(out, *m)
	}
	return out
}

// All returns every model in the table (pointers, for callers that need
// to mutate through the table's own storage under the caller's care;
// nothing in this module calls it).
func (t *ModelTable) All() []*ModelData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ModelData, 0, len(t.models))
	for _, m := range t.models {
		out = append(out, m)
	}
	return out
}
