// Package upstream implements per-server health tracking and connection
// management: EWMA latency, failure-threshold hysteresis, and a pool
// that selects among or races several servers.
package upstream

import (
	"sync"
	"sync/atomic"
	"time"
)

// consecutiveFailureThreshold is the number of consecutive failures that
// flips a healthy server to unhealthy.
const consecutiveFailureThreshold = 3

// ewmaAlpha is the weight given to a new latency sample
// ("new_avg = 0.875 * old + 0.125 * sample").
const ewmaAlpha = 0.125

// probeInterval bounds how often an unhealthy server is re-probed.
const probeInterval = 30 * time.Second

// Server is one configured upstream, identified by address. All health
// fields are guarded by mu except the atomics, which are hot-path
// counters read far more often than written.
type Server struct {
	Addr string

	mu             sync.RWMutex
	healthy        bool
	consecFailures int
	avgLatency     time.Duration
	lastAttempt    time.Time
	probing        bool

	totalRequests  int64
	totalSuccesses int64
}

// NewServer returns a Server that starts out healthy (optimistic
// default: a server is assumed good until it proves otherwise).
func NewServer(addr string) *Server {
	return &Server{Addr: addr, healthy: true}
}

// Healthy reports the server's current health gauge.
func (s *Server) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

// AvgLatency returns the current EWMA latency estimate.
func (s *Server) AvgLatency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avgLatency
}

// LastAttempt returns the time of the most recent dispatch attempt.
func (s *Server) LastAttempt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAttempt
}

// RecordSuccess updates EWMA latency, resets the failure streak, and
// restores health if the server was unhealthy/probing.
func (s *Server) RecordSuccess(latency time.Duration) {
	atomic.AddInt64(&s.totalRequests, 1)
	atomic.AddInt64(&s.totalSuccesses, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = time.Now()
	if s.avgLatency == 0 {
		s.avgLatency = latency
	} else {
		s.avgLatency = time.Duration((1-ewmaAlpha)*float64(s.avgLatency) + ewmaAlpha*float64(latency))
	}
	s.consecFailures = 0
	s.healthy = true
	s.probing = false
}

// RecordFailure increments the consecutive-failure streak and, once it
// reaches the threshold while the server is (or claims to be) healthy,
// transitions it to unhealthy.
func (s *Server) RecordFailure() {
	atomic.AddInt64(&s.totalRequests, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = time.Now()
	s.consecFailures++
	if s.consecFailures >= consecutiveFailureThreshold {
		s.healthy = false
	}
}

// DueForProbe reports whether this unhealthy server has gone at least
// probeInterval since its last attempt and is not already being probed.
func (s *Server) DueForProbe(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthy || s.probing {
		return false
	}
	if now.Sub(s.lastAttempt) < probeInterval {
		return false
	}
	s.probing = true
	return true
}

func (s *Server) ClearProbing() {
	s.mu.Lock()
	s.probing = false
	s.mu.Unlock()
}

// Stats returns the lifetime request/success counters, for the Stats
// surface and the admin collaborator.
func (s *Server) Stats() (total, successes int64) {
	return atomic.LoadInt64(&s.totalRequests), atomic.LoadInt64(&s.totalSuccesses)
}
