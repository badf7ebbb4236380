package fleet

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/beam-cloud/beta9-preloader/pkg/config"
)

func newTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("parsing miniredis addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing miniredis port: %v", err)
	}

	client := NewClient(config.RedisConfig{Host: host, Port: port, DialTimeout: time.Second})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestDedupeSortedRemovesDuplicatesAndSorts(t *testing.T) {
	got := dedupeSorted([]string{"b", "a", "b", "c", "a"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDedupeSortedEmptyInput(t *testing.T) {
	if got := dedupeSorted(nil); len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestPublishAndReadHostIP(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	pub := NewPublisher(client, "invoker-1")
	reader := NewReader(client)
	ctx := context.Background()

	pub.PublishHostIP(ctx, "10.0.0.1")

	id, err := reader.InvokerIDForHost(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("InvokerIDForHost: unexpected error: %v", err)
	}
	if id != "invoker-1" {
		t.Errorf("InvokerIDForHost = %q, want %q", id, "invoker-1")
	}
}

func TestPublishPreLoadedActionsDeduplicatesAndReadsBack(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	pub := NewPublisher(client, "invoker-1")
	reader := NewReader(client)
	ctx := context.Background()

	pub.PublishPreLoadedActions(ctx, []string{"ns/b", "ns/a", "ns/b"})

	names, err := reader.PreLoadedActionsForInvoker(ctx, "invoker-1")
	if err != nil {
		t.Fatalf("PreLoadedActionsForInvoker: unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "ns/a" || names[1] != "ns/b" {
		t.Errorf("got %v, want [ns/a ns/b]", names)
	}
}

func TestPreLoadedActionsForUnknownInvokerReturnsNil(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	reader := NewReader(client)
	names, err := reader.PreLoadedActionsForInvoker(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names != nil {
		t.Errorf("expected nil for unknown invoker, got %v", names)
	}
}

func TestPublishBusyPoolSizeAlsoWritesHeartbeat(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	pub := NewPublisher(client, "invoker-1")
	reader := NewReader(client)
	ctx := context.Background()

	pub.PublishBusyPoolSize(ctx, 7)

	size, err := reader.BusyPoolSizeForInvoker(ctx, "invoker-1")
	if err != nil {
		t.Fatalf("BusyPoolSizeForInvoker: unexpected error: %v", err)
	}
	if size != 7 {
		t.Errorf("BusyPoolSizeForInvoker = %d, want 7", size)
	}

	all, err := reader.AllBusyPoolSizes(ctx)
	if err != nil {
		t.Fatalf("AllBusyPoolSizes: unexpected error: %v", err)
	}
	if all["invoker-1"] != 7 {
		t.Errorf("AllBusyPoolSizes[invoker-1] = %d, want 7", all["invoker-1"])
	}

	if _, err := client.rdb.HGet(ctx, lastSeenHash, "invoker-1").Result(); err != nil {
		t.Errorf("expected a heartbeat entry for invoker-1, got error: %v", err)
	}
}

func TestCleanupStaleRemovesOldInvokersOnly(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	ctx := context.Background()
	fresh := NewPublisher(client, "fresh")
	fresh.PublishBusyPoolSize(ctx, 1)

	stale := NewPublisher(client, "stale")
	stale.PublishBusyPoolSize(ctx, 2)
	// Backdate "stale"'s heartbeat directly, bypassing the publish path.
	client.rdb.HSet(ctx, lastSeenHash, "stale", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))

	removed, err := NewReader(client).CleanupStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("CleanupStale: unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	all, err := NewReader(client).AllBusyPoolSizes(ctx)
	if err != nil {
		t.Fatalf("AllBusyPoolSizes: unexpected error: %v", err)
	}
	if _, ok := all["stale"]; ok {
		t.Error("expected stale invoker to be removed from busyPoolSizeHash")
	}
	if _, ok := all["fresh"]; !ok {
		t.Error("expected fresh invoker to remain")
	}
}
