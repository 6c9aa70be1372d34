package perf

import (
	"sync"
	"testing"
	"time"
)

func TestRecordOperationAggregates(t *testing.T) {
	m := NewMonitor()

	m.RecordOperation("repository", "save", true, 10*time.Millisecond, nil)
	m.RecordOperation("repository", "save", true, 30*time.Millisecond, nil)
	m.RecordOperation("repository", "save", false, 20*time.Millisecond, map[string]string{"model": "sales"})

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() returned %d entries, want 1", len(snap))
	}

	s := snap[0]
	if s.Component != "repository" || s.Operation != "save" {
		t.Errorf("stats identity = %s.%s, want repository.save", s.Component, s.Operation)
	}
	if s.Count != 3 {
		t.Errorf("Count = %d, want 3", s.Count)
	}
	if s.Failures != 1 {
		t.Errorf("Failures = %d, want 1", s.Failures)
	}
	if s.MinDuration != 10*time.Millisecond {
		t.Errorf("MinDuration = %v, want 10ms", s.MinDuration)
	}
	if s.MaxDuration != 30*time.Millisecond {
		t.Errorf("MaxDuration = %v, want 30ms", s.MaxDuration)
	}
	if s.Avg() != 20*time.Millisecond {
		t.Errorf("Avg() = %v, want 20ms", s.Avg())
	}
}

func TestSnapshotOrdering(t *testing.T) {
	m := NewMonitor()

	m.RecordOperation("vectorize", "generate", true, time.Millisecond, nil)
	m.RecordOperation("repository", "load", true, time.Millisecond, nil)
	m.RecordOperation("repository", "save", true, time.Millisecond, nil)

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() returned %d entries, want 3", len(snap))
	}

	want := []string{"repository.load", "repository.save", "vectorize.generate"}
	for i, s := range snap {
		got := s.Component + "." + s.Operation
		if got != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, got, want[i])
		}
	}
}

func TestTimerRecords(t *testing.T) {
	m := NewMonitor()

	timer := m.StartTimer("index", "upsert")
	time.Sleep(5 * time.Millisecond)
	timer.Stop(true, nil)

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() returned %d entries, want 1", len(snap))
	}
	if snap[0].Count != 1 {
		t.Errorf("Count = %d, want 1", snap[0].Count)
	}
	if snap[0].TotalDuration < 5*time.Millisecond {
		t.Errorf("TotalDuration = %v, want >= 5ms", snap[0].TotalDuration)
	}
}

func TestReset(t *testing.T) {
	m := NewMonitor()
	m.RecordOperation("repository", "save", true, time.Millisecond, nil)

	m.Reset()
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Errorf("Snapshot() after Reset returned %d entries, want 0", len(snap))
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordOperation("index", "upsert", true, time.Microsecond, nil)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Count != 800 {
		t.Errorf("Count = %d, want 800", snap[0].Count)
	}
}
