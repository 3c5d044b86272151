package metrics

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// Expvar publishes aggregate timing and result counters via expvar. Totals
// are kept in milliseconds per operation.
type Expvar struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	counters  map[string]int64
}

// ExpvarSnapshot is a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Counters    map[string]int64            `json:"counters_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvar publishes a recorder under name. An empty name gets a unique one.
func NewExpvar(name string) *Expvar {
	if name == "" || expvar.Get(name) != nil {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("crowdtag_metrics_%d", id)
	}
	rec := &Expvar{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		counters:  make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *Expvar) Name() string {
	return r.name
}

// Snapshot returns a copy of the aggregated metrics.
func (r *Expvar) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	return ExpvarSnapshot{
		DurationsMS: durations,
		Results:     results,
		Counters:    counters,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe implements Recorder.
func (r *Expvar) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

// Add implements Recorder.
func (r *Expvar) Add(counter string, n int) {
	if counter == "" || n <= 0 {
		return
	}
	r.mu.Lock()
	r.counters[counter] += int64(n)
	r.mu.Unlock()
}

// Handler serves every published expvar as JSON.
func (r *Expvar) Handler() http.Handler { return expvar.Handler() }
