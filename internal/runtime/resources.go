package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// Metric names read on every snapshot. An unknown name reports KindBad and
// its field degrades to zero, so the tracker stays safe across runtime
// versions.
const (
	metricUserCPU  = "/cpu/classes/user:cpu-seconds"
	metricHeapLive = "/memory/classes/heap/objects:bytes"
)

// resourceTracker turns the runtime's cumulative counters into per-snapshot
// usage figures. One tracker is shared per dispatch table so successive
// handler snapshots measure CPU against the same baseline.
type resourceTracker struct {
	mu      sync.Mutex
	samples [2]metrics.Sample
	prevCPU float64
	prevAt  time.Time
	cores   float64
}

func newResourceTracker() *resourceTracker {
	t := &resourceTracker{cores: float64(runtime.NumCPU())}
	t.samples[0].Name = metricUserCPU
	t.samples[1].Name = metricHeapLive
	return t
}

// Snapshot reads the runtime counters once and reports CPU as the share of
// user CPU time burned since the previous snapshot, normalised across
// cores. The first snapshot has no baseline and reports zero CPU.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples[:])
	now := time.Now()

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	if s := r.samples[1]; s.Value.Kind() == metrics.KindUint64 {
		usage.MemoryBytes = s.Value.Uint64()
	}
	if s := r.samples[0]; s.Value.Kind() == metrics.KindFloat64 {
		cpuSeconds := s.Value.Float64()
		if !r.prevAt.IsZero() && r.cores > 0 {
			if wall := now.Sub(r.prevAt).Seconds(); wall > 0 {
				usage.CPUPercent = (cpuSeconds - r.prevCPU) / wall / r.cores * 100
			}
		}
		r.prevCPU = cpuSeconds
	}
	r.prevAt = now

	return usage
}
