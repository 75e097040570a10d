package rdx

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the RTS-to-ATS round-trip latency histogram
// buckets in nanoseconds, the same logarithmic spacing the teacher's
// I/O-latency histogram uses, now measuring rendezvous completion
// instead of block I/O completion.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Worker's
// endpoints, the rendezvous-core analogue of the teacher's per-device
// I/O counters.
type Metrics struct {
	// Rendezvous protocol counters.
	RTSSent       atomic.Uint64 // RTS send attempts (send_start_rndv), failed ones included
	RTSReceived   atomic.Uint64 // RTS headers processed (ProcessRTS)
	ATSSent       atomic.Uint64 // ATS acknowledgements transmitted
	Cancellations atomic.Uint64 // TAG_CANCELED RTS processed

	// Tag-match outcomes.
	ExpectedMatches    atomic.Uint64 // RTS matched an already-posted receive
	UnexpectedArrivals atomic.Uint64 // RTS parked as a new unexpected descriptor

	// Pending-request discipline.
	PendingEnqueues atomic.Uint64 // sends queued after a busy lane
	PendingPurged   atomic.Uint64 // requests completed with Canceled on endpoint destroy

	// Byte counters.
	BytesSent atomic.Uint64

	// Error counters.
	SendErrors atomic.Uint64

	// Performance tracking.
	TotalLatencyNs atomic.Uint64 // cumulative RTS-to-ATS latency
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] holds the
	// count of completions with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Worker lifecycle.
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRTSSent records a transmitted RTS of the given size.
func (m *Metrics) RecordRTSSent(bytes uint64, success bool) {
	m.RTSSent.Add(1)
	if success {
		m.BytesSent.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
}

// RecordRTSReceived records an RTS processed by ProcessRTS.
func (m *Metrics) RecordRTSReceived() { m.RTSReceived.Add(1) }

// RecordATSSent records a transmitted acknowledgement.
func (m *Metrics) RecordATSSent() { m.ATSSent.Add(1) }

// RecordCancellation records a TAG_CANCELED RTS processed.
func (m *Metrics) RecordCancellation() { m.Cancellations.Add(1) }

// RecordExpectedMatch records an RTS matched against a posted receive,
// along with the round-trip latency once the rendezvous completes.
func (m *Metrics) RecordExpectedMatch(latencyNs uint64) {
	m.ExpectedMatches.Add(1)
	m.recordLatency(latencyNs)
}

// RecordUnexpectedArrival records an RTS parked as unexpected.
func (m *Metrics) RecordUnexpectedArrival() { m.UnexpectedArrivals.Add(1) }

// RecordPendingEnqueue records a send queued after a busy lane.
func (m *Metrics) RecordPendingEnqueue() { m.PendingEnqueues.Add(1) }

// RecordPendingPurged records requests completed with Canceled during
// endpoint destruction.
func (m *Metrics) RecordPendingPurged(count int) {
	m.PendingPurged.Add(uint64(count))
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the worker as stopped.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	RTSSent            uint64
	RTSReceived        uint64
	ATSSent            uint64
	Cancellations      uint64
	ExpectedMatches    uint64
	UnexpectedArrivals uint64
	PendingEnqueues    uint64
	PendingPurged      uint64
	BytesSent          uint64
	SendErrors         uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RTSSent:            m.RTSSent.Load(),
		RTSReceived:        m.RTSReceived.Load(),
		ATSSent:            m.ATSSent.Load(),
		Cancellations:      m.Cancellations.Load(),
		ExpectedMatches:    m.ExpectedMatches.Load(),
		UnexpectedArrivals: m.UnexpectedArrivals.Load(),
		PendingEnqueues:    m.PendingEnqueues.Load(),
		PendingPurged:      m.PendingPurged.Load(),
		BytesSent:          m.BytesSent.Load(),
		SendErrors:         m.SendErrors.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.RTSSent.Store(0)
	m.RTSReceived.Store(0)
	m.ATSSent.Store(0)
	m.Cancellations.Store(0)
	m.ExpectedMatches.Store(0)
	m.UnexpectedArrivals.Store(0)
	m.PendingEnqueues.Store(0)
	m.PendingPurged.Store(0)
	m.BytesSent.Store(0)
	m.SendErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, the same shape as the
// teacher's I/O Observer but scoped to rendezvous events.
type Observer interface {
	ObserveRTSSent(bytes uint64, success bool)
	ObserveRTSReceived()
	ObserveATSSent()
	ObserveCancellation()
	ObserveExpectedMatch(latencyNs uint64)
	ObserveUnexpectedArrival()
	ObservePendingEnqueue()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRTSSent(uint64, bool)    {}
func (NoOpObserver) ObserveRTSReceived()             {}
func (NoOpObserver) ObserveATSSent()                 {}
func (NoOpObserver) ObserveCancellation()            {}
func (NoOpObserver) ObserveExpectedMatch(uint64)     {}
func (NoOpObserver) ObserveUnexpectedArrival()       {}
func (NoOpObserver) ObservePendingEnqueue()          {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRTSSent(bytes uint64, success bool) {
	o.metrics.RecordRTSSent(bytes, success)
}
func (o *MetricsObserver) ObserveRTSReceived() { o.metrics.RecordRTSReceived() }
func (o *MetricsObserver) ObserveATSSent()     { o.metrics.RecordATSSent() }
func (o *MetricsObserver) ObserveCancellation() { o.metrics.RecordCancellation() }
func (o *MetricsObserver) ObserveExpectedMatch(latencyNs uint64) {
	o.metrics.RecordExpectedMatch(latencyNs)
}
func (o *MetricsObserver) ObserveUnexpectedArrival() { o.metrics.RecordUnexpectedArrival() }
func (o *MetricsObserver) ObservePendingEnqueue()    { o.metrics.RecordPendingEnqueue() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
