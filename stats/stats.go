// Package stats exposes Heimdall's counters, gauges and histograms
// through expvar, under a "heimdall.<id>.<name>" namespace.
// expvar has no native histogram type, so Histogram below is a small
// bucketed counter set published through an expvar.Func.
package stats

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	mu    sync.Mutex
	names = map[string]bool{}
)

// publish registers v under name in the default expvar map, tolerating
// repeat registration (tests construct multiple Stats instances).
func publish(name string, v expvar.Var) expvar.Var {
	mu.Lock()
	defer mu.Unlock()
	if names[name] {
		return expvar.Get(name)
	}
	names[name] = true
	expvar.Publish(name, v)
	return v
}

func newInt(name string) *expvar.Int {
	v := publish(name, new(expvar.Int))
	i, _ := v.(*expvar.Int)
	if i == nil {
		i = new(expvar.Int)
	}
	return i
}

func newMap(name string) *expvar.Map {
	v := publish(name, new(expvar.Map).Init())
	m, _ := v.(*expvar.Map)
	if m == nil {
		m = new(expvar.Map).Init()
	}
	return m
}

// Histogram buckets observed durations (seconds) into a small fixed set of
// upper bounds. Each sample is counted only in the first bucket whose bound
// it does not exceed (per-bucket counts, not cumulative); the snapshot is
// published through an expvar.Func together with a running sum and count
// for computing an average.
type Histogram struct {
	name    string
	bounds  []float64
	buckets []int64
	sum     int64 // microseconds
	count   int64
}

var defaultBounds = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

func newHistogram(name string) *Histogram {
	h := &Histogram{
		name:    name,
		bounds:  defaultBounds,
		buckets: make([]int64, len(defaultBounds)+1),
	}
	publish(name, expvar.Func(func() interface{} { return h.snapshot() }))
	return h
}

// Observe records a single duration sample, in seconds.
func (h *Histogram) Observe(seconds float64) {
	atomic.AddInt64(&h.sum, int64(seconds*1e6))
	atomic.AddInt64(&h.count, 1)
	for i, b := range h.bounds {
		if seconds <= b {
			atomic.AddInt64(&h.buckets[i], 1)
			return
		}
	}
	atomic.AddInt64(&h.buckets[len(h.buckets)-1], 1)
}

func (h *Histogram) snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(h.bounds)+2)
	for i, b := range h.bounds {
		out[fmt.Sprintf("le_%g", b)] = atomic.LoadInt64(&h.buckets[i])
	}
	out["le_inf"] = atomic.LoadInt64(&h.buckets[len(h.buckets)-1])
	out["count"] = atomic.LoadInt64(&h.count)
	out["sum_us"] = atomic.LoadInt64(&h.sum)
	return out
}

// Stats is the read-only surface consumed by observability collaborators.
// Heimdall's own components hold the concrete *Stats and call the
// increment/observe methods; external collaborators are expected to read
// through expvar instead of importing this package, but the methods here
// are exported for in-process consumers (tests, admin hooks).
type Stats struct {
	QueriesTotal            *expvar.Map
	CacheHits                *expvar.Int
	CacheMisses              *expvar.Int
	CacheEvictions           *expvar.Int
	MalformedPackets         *expvar.Map
	UpstreamRequests         *expvar.Map
	UpstreamResponses        *expvar.Map
	UpstreamConsecutiveFails *expvar.Map
	RateLimitDrops           *expvar.Int

	QueryDuration          *Histogram
	UpstreamResponseTime   *Histogram

	CacheSize            *expvar.Int
	ConcurrentQueries    *expvar.Int
	UpstreamHealthStatus *expvar.Map
}

// New creates a Stats instance scoped under the given id (e.g. a listener
// or pool instance name).
func New(id string) *Stats {
	ns := func(name string) string { return fmt.Sprintf("heimdall.%s.%s", id, name) }
	return &Stats{
		QueriesTotal:             newMap(ns("queries_total")),
		CacheHits:                newInt(ns("cache_hits")),
		CacheMisses:              newInt(ns("cache_misses")),
		CacheEvictions:           newInt(ns("cache_evictions")),
		MalformedPackets:         newMap(ns("malformed_packets")),
		UpstreamRequests:         newMap(ns("upstream_requests")),
		UpstreamResponses:        newMap(ns("upstream_responses")),
		UpstreamConsecutiveFails: newMap(ns("upstream_consecutive_failures")),
		RateLimitDrops:           newInt(ns("rate_limit_drops")),
		QueryDuration:            newHistogram(ns("query_duration_seconds")),
		UpstreamResponseTime:     newHistogram(ns("upstream_response_time_seconds")),
		CacheSize:                newInt(ns("cache_size")),
		ConcurrentQueries:        newInt(ns("concurrent_queries")),
		UpstreamHealthStatus:     newMap(ns("upstream_health_status")),
	}
}

// IncQuery records one processed query, broken down by protocol, qtype
// and response code.
func (s *Stats) IncQuery(proto, qtype, rcode string) {
	s.QueriesTotal.Add(fmt.Sprintf("%s.%s.%s", proto, qtype, rcode), 1)
}

func (s *Stats) IncMalformed(kind string) {
	s.MalformedPackets.Add(kind, 1)
}

func (s *Stats) IncUpstreamRequest(server string) {
	s.UpstreamRequests.Add(server, 1)
}

func (s *Stats) IncUpstreamResponse(server, status string) {
	s.UpstreamResponses.Add(fmt.Sprintf("%s.%s", server, status), 1)
}

func (s *Stats) IncConcurrentQueries() {
	s.ConcurrentQueries.Add(1)
}

func (s *Stats) DecConcurrentQueries() {
	s.ConcurrentQueries.Add(-1)
}

// SetCacheSize publishes the current entry count, for a caller (the cache
// itself, on Put/Flush) to keep the gauge current without a separate
// polling loop.
func (s *Stats) SetCacheSize(n int) {
	s.CacheSize.Set(int64(n))
}

// IncRateLimitDrop records one query dropped by a rate limiter. Heimdall's
// core engine has no rate limiter of its own (one belongs in front of it,
// as a pre-filter); the counter exists so a collaborator that adds one
// downstream of this package has somewhere to report into.
func (s *Stats) IncRateLimitDrop() {
	s.RateLimitDrops.Add(1)
}

func (s *Stats) SetUpstreamHealth(server string, healthy bool) {
	v := int64(0)
	if healthy {
		v = 1
	}
	s.UpstreamHealthStatus.Set(server, func() expvar.Var { i := new(expvar.Int); i.Set(v); return i }())
}
