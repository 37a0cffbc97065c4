package extract

import (
	"sort"
	"sync"
	"time"
)

// Outcome classifies a single model call.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeOverloaded Outcome = "overloaded"
	OutcomeFailed     Outcome = "failed"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	outcome    Outcome
}

// StatsSnapshot is a point-in-time aggregate of model call samples.
type StatsSnapshot struct {
	Count      int `json:"count"`
	OK         int `json:"ok"`
	Overloaded int `json:"overloaded"`
	Failed     int `json:"failed"`

	// Latency of successful calls.
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// LLMStats tracks recent model calls within a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Record adds one call. Failed calls count toward outcomes but not latency.
func (s *LLMStats) Record(d time.Duration, outcome Outcome) {
	durationMs := d.Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		durationMs: durationMs,
		outcome:    outcome,
	})
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	snap := StatsSnapshot{Count: len(s.samples)}
	values := make([]int64, 0, len(s.samples))
	var sum int64
	for _, sm := range s.samples {
		switch sm.outcome {
		case OutcomeOK:
			snap.OK++
			values = append(values, sm.durationMs)
			sum += sm.durationMs
		case OutcomeOverloaded:
			snap.Overloaded++
		default:
			snap.Failed++
		}
	}
	if len(values) == 0 {
		return snap
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	snap.MinMs = values[0]
	snap.MaxMs = values[len(values)-1]
	snap.AvgMs = float64(sum) / float64(len(values))
	snap.P50Ms = percentile(values, 50)
	snap.P95Ms = percentile(values, 95)
	snap.P99Ms = percentile(values, 99)
	return snap
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	if lower == upper {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
