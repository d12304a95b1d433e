package pipeline

import (
	"sync/atomic"
)

// Profiler aggregates counters and stage timers across runs.
type Profiler struct {
	ImagesProcessed atomic.Int64
	Proposals       atomic.Int64
	Detections      atomic.Int64
	ProposeTimeNs   atomic.Int64
	ClassifyTimeNs  atomic.Int64
	NMSTimeNs       atomic.Int64
	VerifyTimeNs    atomic.Int64
}

// Record adds one finished run.
func (p *Profiler) Record(res *Result) {
	if p == nil || res == nil {
		return
	}
	p.ImagesProcessed.Add(1)
	p.Proposals.Add(int64(res.TotalProposals))
	p.Detections.Add(int64(len(res.Detections)))
	p.ProposeTimeNs.Add(int64(res.Timings[StagePropose]))
	p.ClassifyTimeNs.Add(int64(res.Timings[StageClassify]))
	p.NMSTimeNs.Add(int64(res.Timings[StageNMS]))
	p.VerifyTimeNs.Add(int64(res.Timings[StageVerify]))
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	imgs := p.ImagesProcessed.Load()
	stages := map[string]int64{
		StagePropose:  p.ProposeTimeNs.Load(),
		StageClassify: p.ClassifyTimeNs.Load(),
		StageNMS:      p.NMSTimeNs.Load(),
		StageVerify:   p.VerifyTimeNs.Load(),
	}
	out := map[string]any{
		"images":     imgs,
		"proposals":  p.Proposals.Load(),
		"detections": p.Detections.Load(),
	}
	for name, ns := range stages {
		out[name+"_ms_total"] = ns / 1_000_000
		if imgs > 0 {
			out[name+"_ms_per_image"] = float64(ns) / 1_000_000.0 / float64(imgs)
		}
	}
	return out
}
