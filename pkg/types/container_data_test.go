package types

import (
	"testing"
	"time"
)

func TestContainerDataKindString(t *testing.T) {
	cases := []struct {
		k    ContainerDataKind
		want string
	}{
		{KindNoData, "NoData"},
		{KindMemoryData, "MemoryData"},
		{KindPreWarmedData, "PreWarmedData"},
		{KindWarmingData, "WarmingData"},
		{KindWarmingColdData, "WarmingColdData"},
		{KindWarmedData, "WarmedData"},
		{ContainerDataKind(999), "Unknown"},
	}
	for _, c := range cases {
		if got := c.k.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestNoDataAlwaysHasCapacityAndZeroMemory(t *testing.T) {
	var d NoData
	if !d.HasCapacity() {
		t.Error("expected NoData to always report capacity")
	}
	if d.MemoryMB() != 0 {
		t.Errorf("MemoryMB() = %d, want 0", d.MemoryMB())
	}
}

func TestPreWarmedDataExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	noTTL := PreWarmedData{}
	if noTTL.Expired(now) {
		t.Error("expected a nil Expires to never report expired")
	}

	expired := PreWarmedData{Expires: &past}
	if !expired.Expired(now) {
		t.Error("expected a past Expires to report expired")
	}

	notYet := PreWarmedData{Expires: &future}
	if notYet.Expired(now) {
		t.Error("expected a future Expires to not report expired")
	}
}

func TestWarmingDataHasCapacityRequiresMaxConcurrent(t *testing.T) {
	if (WarmingData{MaxConcurrent: 0}).HasCapacity() {
		t.Error("expected HasCapacity false when MaxConcurrent is 0")
	}
	if !(WarmingData{MaxConcurrent: 1}).HasCapacity() {
		t.Error("expected HasCapacity true when MaxConcurrent > 0")
	}
}

func TestWarmedDataHasCapacity(t *testing.T) {
	full := WarmedData{MaxConcurrent: 2, ActiveActivationCount: 2}
	if full.HasCapacity() {
		t.Error("expected no capacity when ActiveActivationCount == MaxConcurrent")
	}

	open := WarmedData{MaxConcurrent: 2, ActiveActivationCount: 1}
	if !open.HasCapacity() {
		t.Error("expected capacity when ActiveActivationCount < MaxConcurrent")
	}
}

func TestWarmedDataMatchesAction(t *testing.T) {
	d := WarmedData{Namespace: "ns", Action: "a"}
	if !d.MatchesAction("ns", "a") {
		t.Error("expected a match on identical namespace/action")
	}
	if d.MatchesAction("ns", "other") {
		t.Error("expected no match on a different action")
	}
	if d.MatchesAction("other", "a") {
		t.Error("expected no match on a different namespace")
	}
}

func TestWarmedDataWithIncrementedCount(t *testing.T) {
	now := time.Now()
	d := WarmedData{ActiveActivationCount: 1, LastUsed: now.Add(-time.Hour)}

	got := d.WithIncrementedCount(now)
	if got.ActiveActivationCount != 2 {
		t.Errorf("ActiveActivationCount = %d, want 2", got.ActiveActivationCount)
	}
	if !got.LastUsed.Equal(now) {
		t.Errorf("LastUsed = %v, want %v", got.LastUsed, now)
	}
	if d.ActiveActivationCount != 1 {
		t.Error("expected the original WarmedData to be unmodified (value receiver)")
	}
}

func TestWarmedDataWithDecrementedCountNeverGoesNegative(t *testing.T) {
	now := time.Now()
	zero := WarmedData{ActiveActivationCount: 0}

	got := zero.WithDecrementedCount(now)
	if got.ActiveActivationCount != 0 {
		t.Errorf("ActiveActivationCount = %d, want 0 (never negative)", got.ActiveActivationCount)
	}

	one := WarmedData{ActiveActivationCount: 1}
	got = one.WithDecrementedCount(now)
	if got.ActiveActivationCount != 0 {
		t.Errorf("ActiveActivationCount = %d, want 0", got.ActiveActivationCount)
	}
}
