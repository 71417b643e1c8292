package checkpoint

import (
	"time"
)

// flushRecord holds timing data for a durable flush.
type flushRecord struct {
	BlockNumber uint64
	FlushedAt   time.Time
}

// Metrics holds checkpoint progress data.
type Metrics struct {
	BlocksPerSecond float64
	LastFlushAt     *time.Time
	FlushCount      int
	HeldFlushes     int
}

// MetricsCollector tracks flush progress over a sliding window.
// Not safe for concurrent use; Manager guards it.
type MetricsCollector struct {
	windowSize  int
	flushes     []flushRecord
	total       int
	heldFlushes int
}

// RecordFlush records a block written to the store.
func (mc *MetricsCollector) RecordFlush(blockNumber uint64, at time.Time) {
	record := flushRecord{BlockNumber: blockNumber, FlushedAt: at}
	mc.total++

	if len(mc.flushes) >= mc.windowSize {
		copy(mc.flushes, mc.flushes[1:])
		mc.flushes[len(mc.flushes)-1] = record
	} else {
		mc.flushes = append(mc.flushes, record)
	}
}

// RecordHeld counts a flush kept in memory during recovery.
func (mc *MetricsCollector) RecordHeld() {
	mc.heldFlushes++
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		FlushCount:  mc.total,
		HeldFlushes: mc.heldFlushes,
	}
	if len(mc.flushes) == 0 {
		return m
	}

	last := mc.flushes[len(mc.flushes)-1]
	at := last.FlushedAt
	m.LastFlushAt = &at

	if len(mc.flushes) >= 2 {
		first := mc.flushes[0]
		duration := last.FlushedAt.Sub(first.FlushedAt)
		if duration > 0 && last.BlockNumber > first.BlockNumber {
			m.BlocksPerSecond = float64(last.BlockNumber-first.BlockNumber) / duration.Seconds()
		}
	}
	return m
}
