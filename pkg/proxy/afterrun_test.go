package proxy

import (
	"context"
	"testing"

	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

type fakePoolHandle struct {
	preLoadCalls []preLoadCall
}

type preLoadCall struct {
	containerID string
	actionKey   string
	modelName   string
}

func (f *fakePoolHandle) NeedWork(containerID string, data types.WarmedData)                 {}
func (f *fakePoolHandle) ContainerIdle(containerID string, data types.WarmedData)             {}
func (f *fakePoolHandle) StartRunMessage(containerID string, data types.ContainerData, actionKey string, lambda float64) {
}
func (f *fakePoolHandle) PreLoadMessage(containerID string, actionKey string, modelName string) {
	f.preLoadCalls = append(f.preLoadCalls, preLoadCall{containerID, actionKey, modelName})
}
func (f *fakePoolHandle) OffLoadSignal(containerID string, modelNames []string)      {}
func (f *fakePoolHandle) ContainerRemoved(containerID string, replacePrewarm bool)    {}
func (f *fakePoolHandle) RescheduleJob(containerID string, activation *types.ActivationMessage) {}

func TestAfterRunCompletedEmitsPreLoadMessageWhenDrained(t *testing.T) {
	pool := &fakePoolHandle{}
	p := New("c1", "ns", 0, 0, 0, Deps{Pool: pool})
	p.data = types.WarmedData{Namespace: "ns", Action: "a", MaxConcurrent: 1}
	p.activeCount = 0
	p.lastModelName = "model-x"

	p.afterRunCompleted(context.Background())

	if len(pool.preLoadCalls) != 1 {
		t.Fatalf("PreLoadMessage calls = %d, want 1", len(pool.preLoadCalls))
	}
	got := pool.preLoadCalls[0]
	if got.containerID != "c1" || got.actionKey != actionKey("ns", "a") || got.modelName != "model-x" {
		t.Errorf("PreLoadMessage call = %+v, want {c1 %s model-x}", got, actionKey("ns", "a"))
	}
}

func TestAfterRunCompletedSkipsPreLoadMessageWhileStillDraining(t *testing.T) {
	pool := &fakePoolHandle{}
	p := New("c1", "ns", 0, 0, 0, Deps{Pool: pool})
	p.data = types.WarmedData{Namespace: "ns", Action: "a", MaxConcurrent: 2}
	p.activeCount = 1
	p.lastModelName = "model-x"

	p.afterRunCompleted(context.Background())

	if len(pool.preLoadCalls) != 0 {
		t.Errorf("PreLoadMessage calls = %d, want 0 while activeCount > 0", len(pool.preLoadCalls))
	}
}
