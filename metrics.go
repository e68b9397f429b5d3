package raid1mirror

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/go-raid1mirror/internal/interfaces"
)

// Observer collects per-operation metrics from every channel's dispatch
// goroutine. It is the root-package face of the internal observer
// interface the dispatchers call into.
type Observer = interfaces.Observer

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,        // 1us
	10_000,       // 10us
	100_000,      // 100us
	1_000_000,    // 1ms
	10_000_000,   // 10ms
	100_000_000,  // 100ms
	1_000_000_000, // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a mirror
type Metrics struct {
	// I/O operation counters
	ReadOps   atomic.Uint64 // Total read operations
	WriteOps  atomic.Uint64 // Total write legs submitted
	UnmapOps  atomic.Uint64 // Total unmap legs submitted
	FlushOps  atomic.Uint64 // Total flush legs submitted
	RepairOps atomic.Uint64 // Total read-repair attempts

	// Block counters
	ReadBlocks  atomic.Uint64 // Total blocks read
	WriteBlocks atomic.Uint64 // Total blocks written
	UnmapBlocks atomic.Uint64 // Total blocks unmapped

	// Error counters
	ReadErrors   atomic.Uint64 // Read operation errors
	WriteErrors  atomic.Uint64 // Write leg errors
	UnmapErrors  atomic.Uint64 // Unmap leg errors
	FlushErrors  atomic.Uint64 // Flush leg errors
	RepairErrors atomic.Uint64 // Read-repairs that could not recover or write back

	// Fault tracking
	BaseFaults atomic.Uint64 // Base devices externally failed

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative operation latency in nanoseconds
	OpCount        atomic.Uint64 // Total operations (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Mirror lifecycle
	StartTime atomic.Int64 // Mirror start timestamp (UnixNano)
	StopTime  atomic.Int64 // Mirror stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a read operation
func (m *Metrics) RecordRead(blocks uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBlocks.Add(blocks)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records one write leg
func (m *Metrics) RecordWrite(blocks uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBlocks.Add(blocks)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordUnmap records one unmap leg
func (m *Metrics) RecordUnmap(blocks uint64, latencyNs uint64, success bool) {
	m.UnmapOps.Add(1)
	if success {
		m.UnmapBlocks.Add(blocks)
	} else {
		m.UnmapErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFlush records one flush leg
func (m *Metrics) RecordFlush(latencyNs uint64, success bool) {
	m.FlushOps.Add(1)
	if !success {
		m.FlushErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRepair records one read-repair attempt
func (m *Metrics) RecordRepair(success bool) {
	m.RepairOps.Add(1)
	if !success {
		m.RepairErrors.Add(1)
	}
}

// RecordBaseFault records one external base-device failure
func (m *Metrics) RecordBaseFault(baseIndex int) {
	m.BaseFaults.Add(1)
}

// recordLatency records operation latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	// Update histogram buckets (cumulative)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the mirror as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	// I/O operations
	ReadOps   uint64
	WriteOps  uint64
	UnmapOps  uint64
	FlushOps  uint64
	RepairOps uint64

	// Blocks transferred
	ReadBlocks  uint64
	WriteBlocks uint64
	UnmapBlocks uint64

	// Error counts
	ReadErrors   uint64
	WriteErrors  uint64
	UnmapErrors  uint64
	FlushErrors  uint64
	RepairErrors uint64

	// Fault tracking
	BaseFaults uint64

	// Performance
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64 // 50th percentile (median)
	LatencyP99Ns  uint64 // 99th percentile
	LatencyP999Ns uint64 // 99.9th percentile

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	ReadIOPS   float64 // Operations per second
	WriteIOPS  float64
	TotalOps   uint64
	ErrorRate  float64 // Percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:      m.ReadOps.Load(),
		WriteOps:     m.WriteOps.Load(),
		UnmapOps:     m.UnmapOps.Load(),
		FlushOps:     m.FlushOps.Load(),
		RepairOps:    m.RepairOps.Load(),
		ReadBlocks:   m.ReadBlocks.Load(),
		WriteBlocks:  m.WriteBlocks.Load(),
		UnmapBlocks:  m.UnmapBlocks.Load(),
		ReadErrors:   m.ReadErrors.Load(),
		WriteErrors:  m.WriteErrors.Load(),
		UnmapErrors:  m.UnmapErrors.Load(),
		FlushErrors:  m.FlushErrors.Load(),
		RepairErrors: m.RepairErrors.Load(),
		BaseFaults:   m.BaseFaults.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.UnmapOps + snap.FlushOps

	// Calculate average latency
	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	// Calculate uptime
	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	// Calculate rates (operations per second)
	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
	}

	// Calculate error rate
	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.UnmapErrors + snap.FlushErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	// Copy histogram bucket counts
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	// Calculate percentiles from histogram
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	// Find the bucket containing the target percentile
	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			// Linear interpolation within bucket
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			// Interpolate between prevBucket and bucket
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// If we get here, the latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.UnmapOps.Store(0)
	m.FlushOps.Store(0)
	m.RepairOps.Store(0)
	m.ReadBlocks.Store(0)
	m.WriteBlocks.Store(0)
	m.UnmapBlocks.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.UnmapErrors.Store(0)
	m.FlushErrors.Store(0)
	m.RepairErrors.Store(0)
	m.BaseFaults.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveUnmap(uint64, uint64, bool) {}
func (NoOpObserver) ObserveFlush(uint64, bool)         {}
func (NoOpObserver) ObserveRepair(bool)                {}
func (NoOpObserver) ObserveBaseFaulted(int)            {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(blocks uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(blocks, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(blocks uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(blocks, latencyNs, success)
}

func (o *MetricsObserver) ObserveUnmap(blocks uint64, latencyNs uint64, success bool) {
	o.metrics.RecordUnmap(blocks, latencyNs, success)
}

func (o *MetricsObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.metrics.RecordFlush(latencyNs, success)
}

func (o *MetricsObserver) ObserveRepair(success bool) {
	o.metrics.RecordRepair(success)
}

func (o *MetricsObserver) ObserveBaseFaulted(baseIndex int) {
	o.metrics.RecordBaseFault(baseIndex)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
