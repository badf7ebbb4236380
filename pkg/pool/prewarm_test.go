package pool

import (
	"testing"
	"time"
)

func TestReactiveConfigDesiredCount(t *testing.T) {
	r := &ReactiveConfig{MinCount: 1, MaxCount: 5, Threshold: 10, Increment: 1}

	if got := r.desiredCount(0); got != 1 {
		t.Errorf("desiredCount(0) = %d, want MinCount 1", got)
	}
	if got := r.desiredCount(25); got != 2 {
		t.Errorf("desiredCount(25) = %d, want 2", got)
	}
	if got := r.desiredCount(1000); got != 5 {
		t.Errorf("desiredCount(1000) = %d, want MaxCount 5", got)
	}
}

func TestPrewarmStateDesiredCountInit(t *testing.T) {
	s := newPrewarmState(nil)
	c := PrewarmingConfig{ExecKind: "python", MemoryLimitMB: 256, InitialCount: 3}

	if got := s.desiredCount(c, tickInit); got != 3 {
		t.Errorf("desiredCount(tickInit) = %d, want InitialCount 3", got)
	}
}

func TestPrewarmStateDesiredCountScheduledWithoutReactiveHoldsSteady(t *testing.T) {
	s := newPrewarmState(nil)
	c := PrewarmingConfig{ExecKind: "python", MemoryLimitMB: 256, InitialCount: 3}
	s.markRunning(c, "p1", nil)
	s.markRunning(c, "p2", nil)

	if got := s.desiredCount(c, tickScheduled); got != 2 {
		t.Errorf("desiredCount(tickScheduled) without Reactive = %d, want current count 2", got)
	}
}

func TestPrewarmStateDesiredCountBackfillPicksMax(t *testing.T) {
	s := newPrewarmState(nil)
	c := PrewarmingConfig{
		InitialCount: 2,
		Reactive:     &ReactiveConfig{MinCount: 5, MaxCount: 10, Threshold: 1, Increment: 1},
	}
	if got := s.desiredCount(c, tickBackfill); got != 5 {
		t.Errorf("desiredCount(tickBackfill) = %d, want max(InitialCount, MinCount) = 5", got)
	}

	c2 := PrewarmingConfig{InitialCount: 7, Reactive: &ReactiveConfig{MinCount: 5}}
	if got := s.desiredCount(c2, tickBackfill); got != 7 {
		t.Errorf("desiredCount(tickBackfill) = %d, want InitialCount 7", got)
	}
}

func TestPrewarmStateMarkStartingThenRunningMoves(t *testing.T) {
	s := newPrewarmState(nil)
	c := PrewarmingConfig{ExecKind: "python", MemoryLimitMB: 256}
	k := keyOf(c)

	s.markStarting(c, "p1")
	if s.currentCount(k) != 1 {
		t.Fatalf("currentCount after markStarting = %d, want 1", s.currentCount(k))
	}

	s.markRunning(c, "p1", nil)
	if len(s.starting[k]) != 0 {
		t.Error("expected p1 removed from starting after markRunning")
	}
	if len(s.running[k]) != 1 {
		t.Error("expected p1 added to running after markRunning")
	}
}

func TestPrewarmStateTakeEarliestExpiring(t *testing.T) {
	s := newPrewarmState(nil)
	c := PrewarmingConfig{ExecKind: "python", MemoryLimitMB: 256}
	k := keyOf(c)

	now := time.Now()
	later := now.Add(time.Hour)
	s.markRunning(c, "p-later", &later)
	s.markRunning(c, "p-sooner", &now)
	s.markRunning(c, "p-forever", nil)

	entry, ok := s.takeEarliestExpiring(k)
	if !ok || entry.proxyID != "p-sooner" {
		t.Errorf("expected p-sooner (earliest expiry), got %+v ok=%v", entry, ok)
	}
	if s.currentCount(k) != 2 {
		t.Errorf("expected taken entry removed, currentCount = %d", s.currentCount(k))
	}
}

func TestPrewarmStateOverdueRemovesExpiredEntries(t *testing.T) {
	s := newPrewarmState(nil)
	c := PrewarmingConfig{ExecKind: "python", MemoryLimitMB: 256}
	k := keyOf(c)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	s.markRunning(c, "expired", &past)
	s.markRunning(c, "fresh", &future)
	s.markRunning(c, "permanent", nil)

	overdue := s.overdue(time.Now())
	if len(overdue) != 1 || overdue[0] != "expired" {
		t.Errorf("overdue = %v, want [expired]", overdue)
	}
	if s.currentCount(k) != 2 {
		t.Errorf("expected 2 remaining after overdue removal, got %d", s.currentCount(k))
	}
}

func TestPrewarmStateTotalMemoryMB(t *testing.T) {
	configs := []PrewarmingConfig{
		{ExecKind: "python", MemoryLimitMB: 256},
		{ExecKind: "node", MemoryLimitMB: 512},
	}
	s := newPrewarmState(configs)
	s.markRunning(configs[0], "p1", nil)
	s.markRunning(configs[0], "p2", nil)
	s.markRunning(configs[1], "p3", nil)

	if got := s.totalMemoryMB(); got != 2*256+512 {
		t.Errorf("totalMemoryMB = %d, want %d", got, 2*256+512)
	}
}

func TestTickJitterWithinBounds(t *testing.T) {
	interval := 30 * time.Second
	variance := 5 * time.Second
	for i := 0; i < 50; i++ {
		d := tickJitter(interval, variance)
		if d < interval-variance || d > interval+variance {
			t.Fatalf("tickJitter returned %v, outside [%v, %v]", d, interval-variance, interval+variance)
		}
	}
}

func TestTickJitterNoVarianceReturnsInterval(t *testing.T) {
	if got := tickJitter(10*time.Second, 0); got != 10*time.Second {
		t.Errorf("tickJitter with zero variance = %v, want 10s", got)
	}
}

func TestStaggerDelayWithinBounds(t *testing.T) {
	min, max := 100*time.Millisecond, 2100*time.Millisecond
	for i := 0; i < 50; i++ {
		d := staggerDelay(min, max)
		if d < min || d >= max {
			t.Fatalf("staggerDelay returned %v, outside [%v, %v)", d, min, max)
		}
	}
}

func TestStaggerDelayMaxNotGreaterThanMinReturnsMin(t *testing.T) {
	if got := staggerDelay(time.Second, time.Second); got != time.Second {
		t.Errorf("staggerDelay(eq) = %v, want min", got)
	}
}
