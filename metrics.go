package mlx5accel

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the task-completion latency histogram buckets in
// nanoseconds, spanning submission-to-completion for a single accel task.
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

// Stats tracks per-device operational counters, matching the accounting a
// channel's poller accumulates across its lifetime.
type Stats struct {
	Tasks       atomic.Uint64 // tasks completed (success or error)
	TasksFailed atomic.Uint64 // tasks completed with an error
	UMRs        atomic.Uint64 // UMR WRs posted (MKey configuration)
	RDMAWrites  atomic.Uint64 // RDMA write/read WRs posted
	Polls       atomic.Uint64 // CQ poll calls
	IdlePolls   atomic.Uint64 // CQ poll calls that found nothing to reap
	Completions atomic.Uint64 // CQEs reaped

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewStats creates a new stats instance.
func NewStats() *Stats {
	s := &Stats{}
	s.StartTime.Store(time.Now().UnixNano())
	return s
}

// RecordTask records the outcome and latency of one completed accel task.
func (s *Stats) RecordTask(latencyNs uint64, success bool) {
	s.Tasks.Add(1)
	if !success {
		s.TasksFailed.Add(1)
	}
	s.recordLatency(latencyNs)
}

// RecordUMR records a posted UMR WR (MKey configuration for one task segment).
func (s *Stats) RecordUMR() {
	s.UMRs.Add(1)
}

// RecordRDMA records a posted RDMA read/write WR.
func (s *Stats) RecordRDMA() {
	s.RDMAWrites.Add(1)
}

// RecordPoll records one CQ poll call; reaped is the number of CQEs it drained.
func (s *Stats) RecordPoll(reaped uint32) {
	s.Polls.Add(1)
	if reaped == 0 {
		s.IdlePolls.Add(1)
	}
	s.Completions.Add(uint64(reaped))
}

// RecordQueueDepth records current in-flight task count for statistics.
func (s *Stats) RecordQueueDepth(depth uint32) {
	s.QueueDepthTotal.Add(uint64(depth))
	s.QueueDepthCount.Add(1)

	for {
		current := s.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if s.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (s *Stats) recordLatency(latencyNs uint64) {
	s.TotalLatencyNs.Add(latencyNs)
	s.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			s.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the device/channel as stopped.
func (s *Stats) Stop() {
	s.StopTime.Store(time.Now().UnixNano())
}

// StatsSnapshot is a point-in-time snapshot of Stats.
type StatsSnapshot struct {
	Tasks       uint64
	TasksFailed uint64
	UMRs        uint64
	RDMAWrites  uint64
	Polls       uint64
	IdlePolls   uint64
	Completions uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TaskErrorRate float64
}

// Snapshot creates a point-in-time snapshot of the stats.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Tasks:         s.Tasks.Load(),
		TasksFailed:   s.TasksFailed.Load(),
		UMRs:          s.UMRs.Load(),
		RDMAWrites:    s.RDMAWrites.Load(),
		Polls:         s.Polls.Load(),
		IdlePolls:     s.IdlePolls.Load(),
		Completions:   s.Completions.Load(),
		MaxQueueDepth: s.MaxQueueDepth.Load(),
	}

	queueDepthTotal := s.QueueDepthTotal.Load()
	queueDepthCount := s.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := s.TotalLatencyNs.Load()
	opCount := s.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := s.StartTime.Load()
	stopTime := s.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.Tasks > 0 {
		snap.TaskErrorRate = float64(snap.TasksFailed) / float64(snap.Tasks) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = s.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = s.calculatePercentile(0.50)
		snap.LatencyP99Ns = s.calculatePercentile(0.99)
		snap.LatencyP999Ns = s.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (s *Stats) calculatePercentile(percentile float64) uint64 {
	totalOps := s.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := s.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = s.LatencyBuckets[i-1].Load()
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

// Reset resets all counters (useful for testing).
func (s *Stats) Reset() {
	s.Tasks.Store(0)
	s.TasksFailed.Store(0)
	s.UMRs.Store(0)
	s.RDMAWrites.Store(0)
	s.Polls.Store(0)
	s.IdlePolls.Store(0)
	s.Completions.Store(0)
	s.QueueDepthTotal.Store(0)
	s.QueueDepthCount.Store(0)
	s.MaxQueueDepth.Store(0)
	s.TotalLatencyNs.Store(0)
	s.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		s.LatencyBuckets[i].Store(0)
	}
	s.StartTime.Store(time.Now().UnixNano())
	s.StopTime.Store(0)
}

// Observer allows pluggable metrics collection for the engine's task and
// poller hot paths, mirroring the interface the channel/poller calls into
// after every task completion and every CQ poll.
type Observer interface {
	ObserveTask(latencyNs uint64, success bool)
	ObserveUMR()
	ObserveRDMA()
	ObservePoll(reaped uint32)
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveTask(uint64, bool)   {}
func (NoOpObserver) ObserveUMR()                {}
func (NoOpObserver) ObserveRDMA()               {}
func (NoOpObserver) ObservePoll(uint32)         {}
func (NoOpObserver) ObserveQueueDepth(uint32)   {}

// StatsObserver implements Observer using a built-in Stats.
type StatsObserver struct {
	stats *Stats
}

// NewStatsObserver creates an observer that records to the given stats.
func NewStatsObserver(s *Stats) *StatsObserver {
	return &StatsObserver{stats: s}
}

func (o *StatsObserver) ObserveTask(latencyNs uint64, success bool) {
	o.stats.RecordTask(latencyNs, success)
}

func (o *StatsObserver) ObserveUMR() {
	o.stats.RecordUMR()
}

func (o *StatsObserver) ObserveRDMA() {
	o.stats.RecordRDMA()
}

func (o *StatsObserver) ObservePoll(reaped uint32) {
	o.stats.RecordPoll(reaped)
}

func (o *StatsObserver) ObserveQueueDepth(depth uint32) {
	o.stats.RecordQueueDepth(depth)
}

var _ Observer = (*StatsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
