package pool

import (
	"sort"

	"github.com/beam-cloud/beta9-preloader/pkg/registry"
)

const perContainerModelBudgetMB = 2047

// preloadEntry is one resident model on a shared container.
type preloadEntry struct {
	containerID string
	model       registry.ModelData
}

// PreloadTable is the authoritative containerId -> resident foreign
// models map the planner mutates.
type PreloadTable struct {
	byContainer map[string][]registry.ModelData
}

// NewPreloadTable builds an empty table.
func NewPreloadTable() *PreloadTable {
	return &PreloadTable{byContainer: make(map[string][]registry.ModelData)}
}

// Models returns a container's resident model list.
func (t *PreloadTable) Models(containerID string) []registry.ModelData {
	return t.byContainer[containerID]
}

// ResidentMB returns the sum of resident model sizes for a container.
func (t *PreloadTable) ResidentMB(containerID string) int64 {
	var sum int64
	for _, m := range t.byContainer[containerID] {
		sum += m.ModelSize
	}
	return sum
}

// Capacity returns the remaining per-container model-memory budget.
func (t *PreloadTable) Capacity(containerID string) int64 {
	return perContainerModelBudgetMB - t.ResidentMB(containerID)
}

// Has reports whether containerID already hosts modelName.
func (t *PreloadTable) Has(containerID, modelName string) bool {
	for _, m := range t.byContainer[containerID] {
		if m.ModelName == modelName {
			return true
		}
	}
	return false
}

// Add appends a model to a container's resident list (spec invariant:
// distinct model names, Σ size ≤ budget — callers are expected to have
// checked capacity via BinPacking before calling Add).
func (t *PreloadTable) Add(containerID string, m registry.ModelData) {
	t.byContainer[containerID] = append(t.byContainer[containerID], m)
}

// Remove drops a model from a container's resident list.
func (t *PreloadTable) Remove(containerID, modelName string) {
	list := t.byContainer[containerID]
	for i, m := range list {
		if m.ModelName == modelName {
			t.byContainer[containerID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Init seeds an empty resident list for a newly-shared container, from
// the Pool's ContainerIdle handler.
func (t *PreloadTable) Init(containerID string) {
	if _, ok := t.byContainer[containerID]; !ok {
		t.byContainer[containerID] = nil
	}
}

// Drop removes a container entirely (it left sharedPool).
func (t *PreloadTable) Drop(containerID string) {
	delete(t.byContainer, containerID)
}

// PreLoadedActionNames returns the distinct action names implied by
// every resident model across every container, for the fleet-state
// publisher.
func (t *PreloadTable) PreLoadedActionNames() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, models := range t.byContainer {
		for _, m := range models {
			if _, ok := seen[m.ActionName]; !ok {
				seen[m.ActionName] = struct{}{}
				out = append(out, m.ActionName)
			}
		}
	}
	return out
}

// ContainerIDs returns every container currently tracked (sharedPool
// members), in no particular order.
func (t *PreloadTable) ContainerIDs() []string {
	ids := make([]string, 0, len(t.byContainer))
	for id := range t.byContainer {
		ids = append(ids, id)
	}
	return ids
}

// BinPacking implements the pre-load placement heuristic:
// first fit among shared containers that don't already hold the model,
// preferring largest remaining capacity; if none fits, evict resident
// models in ascending expectedSavedLatency order (only those strictly
// lower-value than the candidate) until a host frees up; otherwise nil.
// evict is invoked for every model evicted to make room so the caller
// can emit the corresponding OffLoadMessage.
func (t *PreloadTable) BinPacking(sharedPoolIDs []string, model registry.ModelData, evict func(containerID, modelName string)) (string, bool) {
	candidates := make([]string, 0, len(sharedPoolIDs))
	for _, id := range sharedPoolIDs {
		if !t.Has(id, model.ModelName) {
			candidates = append(candidates, id)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return t.Capacity(candidates[i]) > t.Capacity(candidates[j])
	})
	for _, id := range candidates {
		if t.Capacity(id) >= model.ModelSize {
			return id, true
		}
	}

	for _, id := range candidates {
		resident := append([]registry.ModelData(nil), t.byContainer[id]...)
		sort.Slice(resident, func(i, j int) bool {
			return resident[i].ExpectedSavedLatency < resident[j].ExpectedSavedLatency
		})
		for _, m := range resident {
			if m.ExpectedSavedLatency >= model.ExpectedSavedLatency {
				break
			}
			t.Remove(id, m.ModelName)
			if evict != nil {
				evict(id, m.ModelName)
			}
			if t.Capacity(id) >= model.ModelSize {
				return id, true
			}
		}
	}
	return "", false
}
