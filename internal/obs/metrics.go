// Package obs provides lock-free counters and latency stats for the fill
// pipeline hot paths.
package obs

import (
	"sync/atomic"
	"time"

	"alphaledger/internal/model"
)

const reconcileOutcomeSlots = 4

var reconcileOutcomes = [reconcileOutcomeSlots]model.ReconcileOutcome{
	model.ReconcileMatched,
	model.ReconcileBackfilled,
	model.ReconcileAdopted,
	model.ReconcileUnresolved,
}

func outcomeIndex(outcome model.ReconcileOutcome) int {
	for i := range reconcileOutcomes {
		if reconcileOutcomes[i] == outcome {
			return i
		}
	}

	return -1
}

// Metrics collects lightweight counters and latency stats. All methods
// tolerate a nil receiver so wiring metrics stays optional.
type Metrics struct {
	entriesRecorded uint64
	duplicateFills  uint64
	tradesCompleted uint64
	closeReplays    uint64
	queueDrops      uint64
	queueClosed     uint64
	outcomeCounts   [reconcileOutcomeSlots]uint64

	applyLatency LatencyStats
	closeLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EntriesRecorded   uint64
	DuplicateFills    uint64
	TradesCompleted   uint64
	CloseReplays      uint64
	QueueDrops        uint64
	QueueClosed       uint64
	ReconcileOutcomes map[model.ReconcileOutcome]uint64
	ApplyLatency      LatencySnapshot
	CloseLatency      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncEntryRecorded counts a freshly recorded position entry.
func (m *Metrics) IncEntryRecorded() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.entriesRecorded, 1)
}

// IncDuplicateFill counts an absorbed redelivered fill.
func (m *Metrics) IncDuplicateFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.duplicateFills, 1)
}

// AddTradesCompleted counts trades emitted by one close walk.
func (m *Metrics) AddTradesCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&m.tradesCompleted, uint64(n))
}

// IncCloseReplay counts a close request answered from already recorded
// trades instead of a fresh walk.
func (m *Metrics) IncCloseReplay() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.closeReplays, 1)
}

// IncQueueDrop records a fill dropped on a full queue.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a publish attempt on a closed queue.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// AddReconcileOutcome counts symbols that finished a reconciliation run
// with the given outcome.
func (m *Metrics) AddReconcileOutcome(outcome model.ReconcileOutcome, n int) {
	if m == nil || n <= 0 {
		return
	}
	if idx := outcomeIndex(outcome); idx >= 0 {
		atomic.AddUint64(&m.outcomeCounts[idx], uint64(n))
	}
}

// ObserveApply measures one fill's end-to-end apply latency.
func (m *Metrics) ObserveApply(d time.Duration) {
	if m == nil {
		return
	}
	m.applyLatency.Observe(d)
}

// ObserveCloseWalk measures one committed FIFO close walk.
func (m *Metrics) ObserveCloseWalk(d time.Duration) {
	if m == nil {
		return
	}
	m.closeLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	outcomes := make(map[model.ReconcileOutcome]uint64)
	for i := range m.outcomeCounts {
		if v := atomic.LoadUint64(&m.outcomeCounts[i]); v > 0 {
			outcomes[reconcileOutcomes[i]] = v
		}
	}
	return Snapshot{
		EntriesRecorded:   atomic.LoadUint64(&m.entriesRecorded),
		DuplicateFills:    atomic.LoadUint64(&m.duplicateFills),
		TradesCompleted:   atomic.LoadUint64(&m.tradesCompleted),
		CloseReplays:      atomic.LoadUint64(&m.closeReplays),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		QueueClosed:       atomic.LoadUint64(&m.queueClosed),
		ReconcileOutcomes: outcomes,
		ApplyLatency:      m.applyLatency.Snapshot(),
		CloseLatency:      m.closeLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
