package pipeline

import (
	"runtime"
	"time"
)

// MemStats is a process memory snapshot reported by the health endpoint.
type MemStats struct {
	AllocBytes      uint64        `json:"alloc_bytes"`
	TotalAllocBytes uint64        `json:"total_alloc_bytes"`
	SysBytes        uint64        `json:"sys_bytes"`
	HeapObjects     uint64        `json:"heap_objects"`
	NumGC           uint32        `json:"num_gc"`
	LastGCPause     time.Duration `json:"last_gc_pause_ns"`
	Goroutines      int           `json:"goroutines"`
}

// GetMemStats captures current memory statistics.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s := MemStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		HeapObjects:     m.HeapObjects,
		NumGC:           m.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}
	if m.NumGC > 0 {
		s.LastGCPause = time.Duration(m.PauseNs[(m.NumGC+255)%256])
	}
	return s
}
