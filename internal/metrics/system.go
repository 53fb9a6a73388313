package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemSampler tracks host CPU and process memory for the debug
// introspection surface, sampled on a ticker by the owning process.
type SystemSampler struct {
	mu          sync.RWMutex
	cpuPercent  float64
	memoryStats runtime.MemStats
}

// NewSystemSampler builds a SystemSampler with an initial sample taken.
func NewSystemSampler() *SystemSampler {
	s := &SystemSampler{}
	s.Sample()
	return s
}

// Sample refreshes both CPU and memory readings.
func (s *SystemSampler) Sample() {
	s.sampleMemory()
	s.sampleCPU()
}

func (s *SystemSampler) sampleMemory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	runtime.ReadMemStats(&s.memoryStats)
}

func (s *SystemSampler) sampleCPU() {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cpuPercent == 0 {
		s.cpuPercent = current
	} else {
		const alpha = 0.3
		s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
	}
}

// MemoryMB returns current heap usage in megabytes.
func (s *SystemSampler) MemoryMB() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return float64(s.memoryStats.HeapAlloc) / 1024 / 1024
}

// CPUPercent returns the current smoothed host CPU usage percentage.
func (s *SystemSampler) CPUPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpuPercent
}

// Info returns a snapshot suitable for a debug HTTP endpoint.
func (s *SystemSampler) Info() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"cpu": map[string]interface{}{
			"cores":   runtime.NumCPU(),
			"percent": s.cpuPercent,
		},
		"memory": map[string]interface{}{
			"heap_alloc_mb": float64(s.memoryStats.HeapAlloc) / 1024 / 1024,
			"sys_total_mb":  float64(s.memoryStats.Sys) / 1024 / 1024,
			"gc_count":      s.memoryStats.NumGC,
		},
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"go_version": runtime.Version(),
		},
	}
}

// RunSampler samples every interval until stop is closed.
func RunSampler(s *SystemSampler, reg *Registry, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sample()
			reg.SetMemoryBytes(uint64(s.MemoryMB() * 1024 * 1024))
			reg.SetCPUPercent(s.CPUPercent())
			reg.SetGoroutines(runtime.NumGoroutine())
		}
	}
}
