// Package stats aggregates exchange outcomes and latencies for the run
// summary.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Latencies are recorded in microseconds between 1µs and one minute.
	minLatency  = 1
	maxLatency  = int64(time.Minute / time.Microsecond)
	sigFigures  = 3
	outcomeDone = "completed"
)

// Recorder collects per-outcome counts and a latency histogram. It is safe for
// concurrent use.
type Recorder struct {
	mu sync.Mutex

	hist      *hdrhistogram.Histogram
	outcomes  map[string]int64
	methods   map[string]int64
	total     int64
	errors    int64
	startedAt time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		hist:      hdrhistogram.New(minLatency, maxLatency, sigFigures),
		outcomes:  make(map[string]int64),
		methods:   make(map[string]int64),
		startedAt: time.Now(),
	}
}

// Record counts one outcome. Only exchanges that produced a response carry a
// latency; a zero duration is counted but not added to the histogram.
func (r *Recorder) Record(method, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	r.outcomes[outcome]++
	r.methods[method]++
	if outcome != outcomeDone {
		r.errors++
	}

	if d <= 0 {
		return
	}
	v := int64(d / time.Microsecond)
	if v < minLatency {
		v = minLatency
	}
	if v > maxLatency {
		v = maxLatency
	}
	// Values are clamped into range, so RecordValue cannot fail.
	_ = r.hist.RecordValue(v)
}

// Reset clears all collected data.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hist.Reset()
	r.outcomes = make(map[string]int64)
	r.methods = make(map[string]int64)
	r.total = 0
	r.errors = 0
	r.startedAt = time.Now()
}

// Count is a labelled counter in a Snapshot.
type Count struct {
	Name  string
	Value int64
}

// Snapshot is a point-in-time summary of a Recorder.
type Snapshot struct {
	Total     int64
	Errors    int64
	ErrorRate float64 // percent
	Samples   int64

	Min  time.Duration
	Mean time.Duration
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration

	Outcomes []Count
	Methods  []Count
	Elapsed  time.Duration
}

// Throughput returns completed exchanges of any outcome per second.
func (s Snapshot) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Total) / s.Elapsed.Seconds()
}

// Snapshot returns the current summary.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Total:    r.total,
		Errors:   r.errors,
		Samples:  r.hist.TotalCount(),
		Outcomes: sortedCounts(r.outcomes),
		Methods:  sortedCounts(r.methods),
		Elapsed:  time.Since(r.startedAt),
	}
	if r.total > 0 {
		s.ErrorRate = float64(r.errors) / float64(r.total) * 100
	}
	if s.Samples > 0 {
		s.Min = micros(r.hist.Min())
		s.Mean = time.Duration(r.hist.Mean() * float64(time.Microsecond))
		s.P50 = micros(r.hist.ValueAtQuantile(50))
		s.P95 = micros(r.hist.ValueAtQuantile(95))
		s.P99 = micros(r.hist.ValueAtQuantile(99))
		s.Max = micros(r.hist.Max())
	}
	return s
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func sortedCounts(m map[string]int64) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
