package mlx5accel

import (
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	s := NewStats()

	snap := s.Snapshot()
	if snap.Tasks != 0 {
		t.Errorf("Expected 0 initial tasks, got %d", snap.Tasks)
	}

	s.RecordTask(1_000_000, true)
	s.RecordTask(2_000_000, true)
	s.RecordTask(500_000, false)

	snap = s.Snapshot()

	if snap.Tasks != 3 {
		t.Errorf("Expected 3 tasks, got %d", snap.Tasks)
	}
	if snap.TasksFailed != 1 {
		t.Errorf("Expected 1 failed task, got %d", snap.TasksFailed)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.TaskErrorRate < expectedErrorRate-0.1 || snap.TaskErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.TaskErrorRate)
	}
}

func TestStatsUMRAndRDMA(t *testing.T) {
	s := NewStats()

	s.RecordUMR()
	s.RecordUMR()
	s.RecordRDMA()

	snap := s.Snapshot()
	if snap.UMRs != 2 {
		t.Errorf("Expected 2 UMRs, got %d", snap.UMRs)
	}
	if snap.RDMAWrites != 1 {
		t.Errorf("Expected 1 RDMA write, got %d", snap.RDMAWrites)
	}
}

func TestStatsPoll(t *testing.T) {
	s := NewStats()

	s.RecordPoll(0)
	s.RecordPoll(3)
	s.RecordPoll(0)

	snap := s.Snapshot()
	if snap.Polls != 3 {
		t.Errorf("Expected 3 polls, got %d", snap.Polls)
	}
	if snap.IdlePolls != 2 {
		t.Errorf("Expected 2 idle polls, got %d", snap.IdlePolls)
	}
	if snap.Completions != 3 {
		t.Errorf("Expected 3 completions, got %d", snap.Completions)
	}
}

func TestStatsQueueDepth(t *testing.T) {
	s := NewStats()

	s.RecordQueueDepth(10)
	s.RecordQueueDepth(20)
	s.RecordQueueDepth(15)

	snap := s.Snapshot()

	if snap.MaxQueueDepth != 20 {
		t.Errorf("Expected max queue depth 20, got %d", snap.MaxQueueDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgQueueDepth < expectedAvg-0.1 || snap.AvgQueueDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg queue depth %.1f, got %.1f", expectedAvg, snap.AvgQueueDepth)
	}
}

func TestStatsLatency(t *testing.T) {
	s := NewStats()

	s.RecordTask(1_000_000, true)
	s.RecordTask(2_000_000, true)

	snap := s.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestStatsUptime(t *testing.T) {
	s := NewStats()

	time.Sleep(10 * time.Millisecond)

	snap := s.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	s.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := s.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestStatsReset(t *testing.T) {
	s := NewStats()

	s.RecordTask(1_000_000, true)
	s.RecordUMR()
	s.RecordQueueDepth(10)

	snap := s.Snapshot()
	if snap.Tasks == 0 {
		t.Error("Expected some tasks before reset")
	}

	s.Reset()

	snap = s.Snapshot()
	if snap.Tasks != 0 {
		t.Errorf("Expected 0 tasks after reset, got %d", snap.Tasks)
	}
	if snap.UMRs != 0 {
		t.Errorf("Expected 0 UMRs after reset, got %d", snap.UMRs)
	}
	if snap.MaxQueueDepth != 0 {
		t.Errorf("Expected 0 max queue depth after reset, got %d", snap.MaxQueueDepth)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveTask(1_000_000, true)
	observer.ObserveUMR()
	observer.ObserveRDMA()
	observer.ObservePoll(1)
	observer.ObserveQueueDepth(10)

	s := NewStats()
	statsObserver := NewStatsObserver(s)

	statsObserver.ObserveTask(1_000_000, true)
	statsObserver.ObserveUMR()
	statsObserver.ObserveRDMA()

	snap := s.Snapshot()
	if snap.Tasks != 1 {
		t.Errorf("Expected 1 task from observer, got %d", snap.Tasks)
	}
	if snap.UMRs != 1 {
		t.Errorf("Expected 1 UMR from observer, got %d", snap.UMRs)
	}
	if snap.RDMAWrites != 1 {
		t.Errorf("Expected 1 RDMA write from observer, got %d", snap.RDMAWrites)
	}
}

func TestStatsHistogram(t *testing.T) {
	s := NewStats()

	for i := 0; i < 50; i++ {
		s.RecordTask(500_000, true)
	}
	for i := 0; i < 49; i++ {
		s.RecordTask(5_000_000, true)
	}
	s.RecordTask(50_000_000, true)

	snap := s.Snapshot()

	if snap.Tasks != 100 {
		t.Errorf("Expected 100 total tasks, got %d", snap.Tasks)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
