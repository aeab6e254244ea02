package obs

import (
	"sync"
	"testing"
	"time"

	"alphaledger/internal/model"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.IncEntryRecorded()
	m.IncEntryRecorded()
	m.IncDuplicateFill()
	m.AddTradesCompleted(3)
	m.AddTradesCompleted(0)
	m.IncCloseReplay()
	m.IncQueueDrop()
	m.AddReconcileOutcome(model.ReconcileMatched, 2)
	m.AddReconcileOutcome(model.ReconcileUnresolved, 1)
	m.AddReconcileOutcome(model.ReconcileOutcome("bogus"), 5)

	s := m.Snapshot()
	if s.EntriesRecorded != 2 {
		t.Fatalf("entries recorded: %d", s.EntriesRecorded)
	}
	if s.DuplicateFills != 1 {
		t.Fatalf("duplicate fills: %d", s.DuplicateFills)
	}
	if s.TradesCompleted != 3 {
		t.Fatalf("trades completed: %d", s.TradesCompleted)
	}
	if s.CloseReplays != 1 {
		t.Fatalf("close replays: %d", s.CloseReplays)
	}
	if s.QueueDrops != 1 {
		t.Fatalf("queue drops: %d", s.QueueDrops)
	}
	if s.ReconcileOutcomes[model.ReconcileMatched] != 2 {
		t.Fatalf("matched outcomes: %d", s.ReconcileOutcomes[model.ReconcileMatched])
	}
	if s.ReconcileOutcomes[model.ReconcileUnresolved] != 1 {
		t.Fatalf("unresolved outcomes: %d", s.ReconcileOutcomes[model.ReconcileUnresolved])
	}
	if len(s.ReconcileOutcomes) != 2 {
		t.Fatalf("unknown outcome must not be counted: %v", s.ReconcileOutcomes)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	m.IncEntryRecorded()
	m.ObserveApply(time.Millisecond)

	s := m.Snapshot()
	if s.EntriesRecorded != 0 {
		t.Fatalf("nil metrics snapshot: %+v", s)
	}
}

func TestLatencyStats(t *testing.T) {
	m := NewMetrics()

	m.ObserveApply(2 * time.Millisecond)
	m.ObserveApply(4 * time.Millisecond)
	m.ObserveApply(6 * time.Millisecond)
	m.ObserveApply(-time.Millisecond)

	lat := m.Snapshot().ApplyLatency
	if lat.Count != 3 {
		t.Fatalf("sample count: %d", lat.Count)
	}
	if lat.Min != 2*time.Millisecond {
		t.Fatalf("min: %s", lat.Min)
	}
	if lat.Max != 6*time.Millisecond {
		t.Fatalf("max: %s", lat.Max)
	}
	if lat.Avg != 4*time.Millisecond {
		t.Fatalf("avg: %s", lat.Avg)
	}
}

func TestMetricsConcurrent(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.IncEntryRecorded()
				m.ObserveCloseWalk(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.EntriesRecorded != 8000 {
		t.Fatalf("entries recorded: %d", s.EntriesRecorded)
	}
	if s.CloseLatency.Count != 8000 {
		t.Fatalf("close walk samples: %d", s.CloseLatency.Count)
	}
}
