// Package metrics records per-stage latencies of the extraction pipeline.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Stage names one step of per-message processing.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageParse      Stage = "parse"
	StageAttachment Stage = "attachments"
	StageClassify   Stage = "classify"
	StageAnnotate   Stage = "annotate"
	StageSave       Stage = "save"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageFetch, StageParse, StageAttachment, StageClassify, StageAnnotate, StageSave}

const defaultWindow = 1000

// LatencyTracker keeps a sliding window of samples.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	window  int
}

func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = defaultWindow
	}
	return &LatencyTracker{samples: make([]time.Duration, 0, window), window: window}
}

func (t *LatencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) >= t.window {
		// drop the oldest tenth at once to avoid shifting on every sample
		drop := max(t.window/10, 1)
		t.samples = append(t.samples[:0], t.samples[drop:]...)
	}
	t.samples = append(t.samples, d)
}

// Stats sorts a copy, so recording is never blocked on percentile math.
func (t *LatencyTracker) Stats() LatencyStats {
	t.mu.Lock()
	sorted := append([]time.Duration(nil), t.samples...)
	t.mu.Unlock()

	n := len(sorted)
	if n == 0 {
		return LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	at := func(p float64) time.Duration { return sorted[int(float64(n-1)*p)] }

	return LatencyStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / time.Duration(n),
		P50:   at(0.50),
		P95:   at(0.95),
	}
}

// LatencyStats summarises one tracker.
type LatencyStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
}

// ToMap renders the stats in milliseconds for structured logs.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":  s.Count,
		"min_ms": ms(s.Min),
		"max_ms": ms(s.Max),
		"avg_ms": ms(s.Avg),
		"p50_ms": ms(s.P50),
		"p95_ms": ms(s.P95),
	}
}

// PipelineLatency holds one tracker per stage. A nil *PipelineLatency
// records nothing.
type PipelineLatency struct {
	trackers map[Stage]*LatencyTracker
}

func NewPipelineLatency(window int) *PipelineLatency {
	p := &PipelineLatency{trackers: make(map[Stage]*LatencyTracker, len(Stages))}
	for _, s := range Stages {
		p.trackers[s] = NewLatencyTracker(window)
	}
	return p
}

func (p *PipelineLatency) Record(stage Stage, d time.Duration) {
	if p == nil {
		return
	}
	if t, ok := p.trackers[stage]; ok {
		t.Record(d)
	}
}

// Start returns a func that records the time elapsed since Start.
//
//	defer latency.Start(metrics.StageSave)()
func (p *PipelineLatency) Start(stage Stage) func() {
	began := time.Now()
	return func() { p.Record(stage, time.Since(began)) }
}

// Snapshot returns stats for every stage that has samples.
func (p *PipelineLatency) Snapshot() map[Stage]LatencyStats {
	out := make(map[Stage]LatencyStats)
	if p == nil {
		return out
	}
	for _, s := range Stages {
		if st := p.trackers[s].Stats(); st.Count > 0 {
			out[s] = st
		}
	}
	return out
}
