// Package profiler tracks operation timings and runtime resource usage.
package profiler

import (
	"math"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultMaxSamples bounds the durations each tracker keeps for percentiles.
const DefaultMaxSamples = 1000

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	name      string
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// OperationStats is a point-in-time view of a TimeTracker.
type OperationStats struct {
	Name    string  `json:"name"`
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_ms"`
	MinMs   float64 `json:"min_ms"`
	MaxMs   float64 `json:"max_ms"`
	AvgMs   float64 `json:"avg_ms"`
	P95Ms   float64 `json:"p95_ms"`
}

// MemoryStats holds the Go heap figures that matter for a long-lived server.
type MemoryStats struct {
	Alloc         uint64  `json:"alloc"`
	TotalAlloc    uint64  `json:"total_alloc"`
	Sys           uint64  `json:"sys"`
	HeapAlloc     uint64  `json:"heap_alloc"`
	HeapObjects   uint64  `json:"heap_objects"`
	GCCycles      uint32  `json:"gc_cycles"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
}

// ProcessStats are OS-level figures for this process and the host.
// Fields stay zero when the platform does not expose them.
type ProcessStats struct {
	RSS             uint64  `json:"rss"`
	CPUPercent      float64 `json:"cpu_percent"`
	HostTotalMemory uint64  `json:"host_total_memory"`
	HostUsedPercent float64 `json:"host_used_percent"`
}

// Snapshot is the full profiler state.
type Snapshot struct {
	Uptime     string           `json:"uptime"`
	Goroutines int              `json:"goroutines"`
	CgoCalls   int64            `json:"cgo_calls"`
	Memory     MemoryStats      `json:"memory"`
	Process    ProcessStats     `json:"process"`
	Operations []OperationStats `json:"operations"`
}

// Profiler records named operation timings.
//
// A nil *Profiler is valid and records nothing, so callers can keep
// profiling optional without branching.
type Profiler struct {
	mu         sync.RWMutex
	startTime  time.Time
	maxSamples int
	operations map[string]*TimeTracker
	proc       *process.Process
}

// New creates a profiler keeping at most maxSamples durations per operation
// (DefaultMaxSamples when <= 0).
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	p := &Profiler{
		startTime:  time.Now(),
		maxSamples: maxSamples,
		operations: make(map[string]*TimeTracker),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		p.proc = proc
	}
	return p
}

// Track begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - A function to call when the operation completes.
func (p *Profiler) Track(name string) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one completed operation.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &TimeTracker{
			name:      name,
			durations: make([]time.Duration, 0, 16),
			minTime:   duration,
			maxTime:   duration,
		}
		p.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	if len(tracker.durations) > p.maxSamples {
		tracker.durations = tracker.durations[1:]
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Operation returns the stats of one operation.
func (p *Profiler) Operation(name string) (OperationStats, bool) {
	if p == nil {
		return OperationStats{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	tracker, ok := p.operations[name]
	if !ok {
		return OperationStats{}, false
	}
	return tracker.stats(), true
}

// Operations returns every tracked operation sorted by name.
func (p *Profiler) Operations() []OperationStats {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]OperationStats, 0, len(p.operations))
	for _, tracker := range p.operations {
		out = append(out, tracker.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot collects operation stats together with runtime and process
// metrics.
func (p *Profiler) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := Snapshot{
		Goroutines: runtime.NumGoroutine(),
		CgoCalls:   runtime.NumCgoCall(),
		Memory: MemoryStats{
			Alloc:         memStats.Alloc,
			TotalAlloc:    memStats.TotalAlloc,
			Sys:           memStats.Sys,
			HeapAlloc:     memStats.HeapAlloc,
			HeapObjects:   memStats.HeapObjects,
			GCCycles:      memStats.NumGC,
			GCCPUFraction: memStats.GCCPUFraction,
		},
		Operations: p.Operations(),
	}
	if snap.Operations == nil {
		snap.Operations = []OperationStats{}
	}

	if p != nil {
		snap.Uptime = time.Since(p.startTime).Truncate(time.Millisecond).String()
		if p.proc != nil {
			if mi, err := p.proc.MemoryInfo(); err == nil {
				snap.Process.RSS = mi.RSS
			}
			if cpu, err := p.proc.CPUPercent(); err == nil {
				snap.Process.CPUPercent = cpu
			}
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.Process.HostTotalMemory = vm.Total
		snap.Process.HostUsedPercent = vm.UsedPercent
	}
	return snap
}

func (t *TimeTracker) stats() OperationStats {
	s := OperationStats{
		Name:    t.name,
		Count:   t.count,
		TotalMs: ms(t.totalTime),
		MinMs:   ms(t.minTime),
		MaxMs:   ms(t.maxTime),
	}
	if t.count > 0 {
		s.AvgMs = s.TotalMs / float64(t.count)
	}
	s.P95Ms = ms(Percentile(t.durations, 0.95))
	return s
}

// Percentile returns the nearest-rank percentile q (0..1) of durations.
func Percentile(durations []time.Duration, q float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
