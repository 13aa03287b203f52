package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/heimdall-dns/heimdall/logger"
	"github.com/heimdall-dns/heimdall/stats"
	"github.com/heimdall-dns/heimdall/wire"
)

var log = logger.With("component", "upstream")

// Pool holds the configured upstream servers and implements the
// selection policy and parallel-K racing, plus the background probe
// loop for unhealthy servers.
type Pool struct {
	servers []*Server
	client  *Client

	mu     sync.Mutex // guards the round-robin tie-break cursor
	cursor int

	parallelK int
	stats     *stats.Stats

	stopProbe chan struct{}
	probeWG   sync.WaitGroup
}

// NewPool constructs a Pool over addrs, each resolved to a *Server and a
// shared Client for dispatch. parallelK is the number of servers raced in
// parallel mode (default 2).
func NewPool(addrs []string, client *Client, parallelK int, st *stats.Stats) *Pool {
	if parallelK < 1 {
		parallelK = 2
	}
	p := &Pool{client: client, parallelK: parallelK, stats: st, stopProbe: make(chan struct{})}
	for _, a := range addrs {
		p.servers = append(p.servers, NewServer(a))
	}
	return p
}

// Select implements the serial selection policy:
// 1. Exclude unhealthy servers.
// 2. Among healthy, prefer lowest EWMA latency.
// 3. If all are unhealthy, pick the one with the oldest last-attempt
//    timestamp (forced probe), tie-broken by a round-robin cursor.
func (p *Pool) Select() *Server {
	var best *Server
	for _, s := range p.servers {
		if !s.Healthy() {
			continue
		}
		if best == nil || s.AvgLatency() < best.AvgLatency() {
			best = s
		}
	}
	if best != nil {
		return best
	}
	return p.oldestAttempt()
}

func (p *Pool) oldestAttempt() *Server {
	if len(p.servers) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var oldest *Server
	for i := 0; i < len(p.servers); i++ {
		idx := (p.cursor + i) % len(p.servers)
		s := p.servers[idx]
		if oldest == nil || s.LastAttempt().Before(oldest.LastAttempt()) {
			oldest = s
		}
	}
	p.cursor = (p.cursor + 1) % len(p.servers)
	return oldest
}

// SelectParallel returns up to parallelK healthy servers for racing. If
// none is healthy it falls back to the single oldest-attempt server, the
// same forced-probe choice Select makes.
func (p *Pool) SelectParallel() []*Server {
	var healthy []*Server
	for _, s := range p.servers {
		if s.Healthy() {
			healthy = append(healthy, s)
		}
		if len(healthy) == p.parallelK {
			break
		}
	}
	if len(healthy) == 0 {
		if s := p.oldestAttempt(); s != nil {
			return []*Server{s}
		}
		return nil
	}
	return healthy
}

// Servers returns the configured servers, for iteration (e.g. the probe
// loop, or an admin listing).
func (p *Pool) Servers() []*Server { return p.servers }

// Query dispatches query to addr through the pool's shared Client, for
// callers (resolver.Resolver) that already picked a Server via Select or
// SelectParallel.
func (p *Pool) Query(ctx context.Context, addr string, query *wire.Packet) (*wire.Packet, error) {
	return p.client.Query(ctx, addr, query)
}

// StartProbing launches the background health-probe loop: every 30s it
// probes unhealthy servers. Call Stop to terminate it.
func (p *Pool) StartProbing(ctx context.Context) {
	p.probeWG.Add(1)
	go func() {
		defer p.probeWG.Done()
		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopProbe:
				return
			case <-ticker.C:
				p.probeUnhealthy(ctx)
			}
		}
	}()
}

func (p *Pool) probeUnhealthy(ctx context.Context) {
	now := time.Now()
	for _, s := range p.servers {
		if !s.DueForProbe(now) {
			continue
		}
		s := s
		go func() {
			defer s.ClearProbing()
			ok, latency := p.client.Probe(ctx, s.Addr)
			if ok {
				s.RecordSuccess(latency)
				log.Info("upstream restored", "addr", s.Addr)
			} else {
				log.Debug("probe failed", "addr", s.Addr)
			}
			if p.stats != nil {
				p.stats.SetUpstreamHealth(s.Addr, s.Healthy())
			}
		}()
	}
}

// Stop terminates the probe loop.
func (p *Pool) Stop() {
	close(p.stopProbe)
	p.probeWG.Wait()
}
