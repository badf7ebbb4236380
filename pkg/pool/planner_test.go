package pool

import (
	"testing"
	"time"

	"github.com/beam-cloud/beta9-preloader/pkg/registry"
)

func TestBinPackingFirstFitByLargestRemainingCapacity(t *testing.T) {
	table := NewPreloadTable()
	table.Init("c1")
	table.Init("c2")
	table.Add("c1", registry.ModelData{ModelName: "existing", ModelSize: 1500}) // 547 MB free
	// c2 starts with full 2047 MB free.

	model := registry.ModelData{ModelName: "new-model", ModelSize: 1000}
	id, ok := table.BinPacking([]string{"c1", "c2"}, model, nil)
	if !ok {
		t.Fatal("expected a fit")
	}
	if id != "c2" {
		t.Errorf("expected c2 (more remaining capacity), got %s", id)
	}
}

func TestBinPackingSkipsContainerAlreadyHostingModel(t *testing.T) {
	table := NewPreloadTable()
	table.Init("c1")
	table.Add("c1", registry.ModelData{ModelName: "dup", ModelSize: 10})

	model := registry.ModelData{ModelName: "dup", ModelSize: 10}
	_, ok := table.BinPacking([]string{"c1"}, model, nil)
	if ok {
		t.Error("expected no fit: c1 already hosts this model")
	}
}

func TestBinPackingEvictsLowerValueResidentWhenNoRoom(t *testing.T) {
	table := NewPreloadTable()
	table.Init("c1")
	table.Add("c1", registry.ModelData{
		ModelName: "low-value", ModelSize: 2000,
		ExpectedSavedLatency: time.Millisecond,
	})

	var evicted []string
	model := registry.ModelData{
		ModelName: "candidate", ModelSize: 1500,
		ExpectedSavedLatency: time.Second,
	}
	id, ok := table.BinPacking([]string{"c1"}, model, func(containerID, modelName string) {
		evicted = append(evicted, modelName)
	})
	if !ok {
		t.Fatal("expected eviction to free enough room")
	}
	if id != "c1" {
		t.Errorf("expected c1, got %s", id)
	}
	if len(evicted) != 1 || evicted[0] != "low-value" {
		t.Errorf("expected low-value to be evicted, got %v", evicted)
	}
	if table.Has("c1", "low-value") {
		t.Error("low-value should have been removed from the table")
	}
}

func TestBinPackingNeverEvictsHigherOrEqualValueResident(t *testing.T) {
	table := NewPreloadTable()
	table.Init("c1")
	table.Add("c1", registry.ModelData{
		ModelName: "high-value", ModelSize: 2000,
		ExpectedSavedLatency: 10 * time.Second,
	})

	model := registry.ModelData{
		ModelName: "candidate", ModelSize: 1500,
		ExpectedSavedLatency: time.Second,
	}
	_, ok := table.BinPacking([]string{"c1"}, model, func(string, string) {
		t.Fatal("should never evict a higher-value resident")
	})
	if ok {
		t.Error("expected no fit: resident is higher-value and must not be evicted")
	}
}

func TestBinPackingNoSharedContainersReturnsFalse(t *testing.T) {
	table := NewPreloadTable()
	_, ok := table.BinPacking(nil, registry.ModelData{ModelName: "m", ModelSize: 1}, nil)
	if ok {
		t.Error("expected no fit with an empty shared pool")
	}
}

func TestPreloadTableAddRemoveResidentMB(t *testing.T) {
	table := NewPreloadTable()
	table.Add("c1", registry.ModelData{ModelName: "m1", ModelSize: 100})
	table.Add("c1", registry.ModelData{ModelName: "m2", ModelSize: 200})

	if got := table.ResidentMB("c1"); got != 300 {
		t.Errorf("ResidentMB = %d, want 300", got)
	}

	table.Remove("c1", "m1")
	if got := table.ResidentMB("c1"); got != 200 {
		t.Errorf("ResidentMB after Remove = %d, want 200", got)
	}
	if table.Has("c1", "m1") {
		t.Error("m1 should have been removed")
	}
}

func TestPreloadTablePreLoadedActionNamesDeduplicates(t *testing.T) {
	table := NewPreloadTable()
	table.Add("c1", registry.ModelData{ActionName: "ns/a", ModelName: "m1"})
	table.Add("c2", registry.ModelData{ActionName: "ns/a", ModelName: "m2"})
	table.Add("c2", registry.ModelData{ActionName: "ns/b", ModelName: "m3"})

	names := table.PreLoadedActionNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 distinct action names, got %v", names)
	}
}
