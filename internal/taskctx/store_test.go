package taskctx

import (
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

func TestSetAndGet(t *testing.T) {
	s := New(0, 0)
	s.Set("s1", Snapshot{Description: "do a thing", Strategy: "hierarchical", Progress: 10})

	snap, ok := s.Get("s1")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.Description != "do a thing" || snap.Strategy != "hierarchical" || snap.Progress != 10 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.LastUpdate.IsZero() {
		t.Error("LastUpdate not set")
	}
}

func TestGetMissing(t *testing.T) {
	s := New(0, 0)
	if _, ok := s.Get("nope"); ok {
		t.Error("expected miss for unknown session")
	}
}

func TestSetMergesPartialUpdates(t *testing.T) {
	s := New(0, 0)
	s.Set("s1", Snapshot{Description: "task", Strategy: "flat", Progress: 20})
	s.Set("s1", Snapshot{Progress: 60, Status: "running"})

	snap, ok := s.Get("s1")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.Description != "task" {
		t.Errorf("description lost on merge: %q", snap.Description)
	}
	if snap.Strategy != "flat" {
		t.Errorf("strategy lost on merge: %q", snap.Strategy)
	}
	if snap.Progress != 60 || snap.Status != "running" {
		t.Errorf("update fields not applied: %+v", snap)
	}
}

func TestSetMergesBreakdown(t *testing.T) {
	s := New(0, 0)
	root := &models.Task{ID: models.RootTaskID, Description: "root"}
	s.Set("s1", Snapshot{Breakdown: root})
	s.Set("s1", Snapshot{Result: "all done", Status: "completed"})

	snap, _ := s.Get("s1")
	if snap.Breakdown == nil || snap.Breakdown.ID != models.RootTaskID {
		t.Error("breakdown lost on merge")
	}
	if snap.Result != "all done" {
		t.Errorf("result not applied: %q", snap.Result)
	}
}

func TestExpiredEntryTreatedAsAbsent(t *testing.T) {
	s := New(8, time.Hour)
	s.Set("s1", Snapshot{Description: "old"})

	// Move the clock past the TTL.
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, ok := s.Get("s1"); ok {
		t.Error("expired entry must read as absent")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry not evicted on read, len = %d", s.Len())
	}
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	s := New(8, time.Hour)
	defer s.Stop()
	s.Set("stale", Snapshot{Description: "old"})
	s.Set("fresh", Snapshot{Description: "new"})

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	s.mu.Lock()
	stale, _ := s.cache.Get("fresh")
	stale.LastUpdate = s.now()
	s.cache.Add("fresh", stale)
	s.mu.Unlock()

	s.sweep()

	if s.Len() != 1 {
		t.Errorf("len = %d after sweep, expected 1", s.Len())
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("fresh entry must survive the sweep")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(0, 0)
	s.Stop()
	s.Stop()
}

func TestRemove(t *testing.T) {
	s := New(0, 0)
	s.Set("s1", Snapshot{Description: "x"})
	s.Remove("s1")
	if _, ok := s.Get("s1"); ok {
		t.Error("expected miss after remove")
	}
}

func TestBoundedCapacity(t *testing.T) {
	s := New(2, time.Hour)
	s.Set("a", Snapshot{Description: "a"})
	s.Set("b", Snapshot{Description: "b"})
	s.Set("c", Snapshot{Description: "c"})

	if s.Len() > 2 {
		t.Errorf("cache exceeded capacity: %d", s.Len())
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("most recent entry should survive eviction")
	}
}
