// Package resolver implements Heimdall's query-processing algorithm: it
// owns no socket and no wire codec of its own, gluing together a
// cache.Cache and an upstream.Pool into a single decision chain.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/heimdall-dns/heimdall/cache"
	"github.com/heimdall-dns/heimdall/config"
	"github.com/heimdall-dns/heimdall/logger"
	"github.com/heimdall-dns/heimdall/stats"
	"github.com/heimdall-dns/heimdall/upstream"
	"github.com/heimdall-dns/heimdall/wire"
)

var log = logger.With("component", "resolver")

var errNoUpstreams = errors.New("resolver: no healthy upstream servers available")

// Resolver is the single entry point a listener calls per inbound query.
type Resolver struct {
	cache *cache.Cache
	pool  *upstream.Pool
	cfg   *config.Holder
	stats *stats.Stats
	dedup *dedupTable
}

func New(c *cache.Cache, p *upstream.Pool, cfg *config.Holder, st *stats.Stats) *Resolver {
	return &Resolver{cache: c, pool: p, cfg: cfg, stats: st, dedup: newDedupTable()}
}

// Resolve implements the query-resolution algorithm in six steps:
//  1. Validate the query (opcode, AXFR/IXFR/ANY policy).
//  2. Look up the cache; on hit, return the TTL-rewritten, id-rewritten
//     response immediately.
//  3. Join (or lead) the in-flight dedup group for this key.
//  4. As leader, dispatch upstream (serial or parallel-K per config),
//     retrying serially up to max_retries on failure.
//  5. On success, insert into the cache and answer.
//  6. On exhaustion, answer SERVFAIL without caching it.
func (r *Resolver) Resolve(ctx context.Context, query *wire.Packet, ci ClientInfo) (*wire.Packet, error) {
	if r.stats != nil {
		r.stats.IncConcurrentQueries()
		defer r.stats.DecConcurrentQueries()
	}
	start := time.Now()
	resp, err := r.resolve(ctx, query, ci)
	if resp != nil && r.stats != nil {
		q, _ := query.Question0()
		r.stats.IncQuery(ci.Protocol, q.Type.String(), resp.Header.Rcode.String())
		r.stats.QueryDuration.Observe(time.Since(start).Seconds())
	}
	return resp, err
}

func (r *Resolver) resolve(ctx context.Context, query *wire.Packet, ci ClientInfo) (*wire.Packet, error) {
	if resp, ok := r.validate(query); ok {
		return r.finalize(query, resp), nil
	}

	q, _ := query.Question0()
	key := cache.KeyFromQuestion(q)

	if resp, ok := r.cache.Get(ctx, key); ok {
		return r.finalize(query, resp), nil
	}

	req, isLeader := r.dedup.join(key)
	if !isLeader {
		select {
		case <-req.done:
			if req.err != nil {
				return r.finalize(query, servfail(query)), nil
			}
			return r.finalize(query, req.answer), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp, err := r.dispatch(ctx, query, key)
	r.dedup.finish(key, req, resp, err)
	if err != nil {
		log.Debug("upstream exhausted", "name", q.Name, "type", q.Type.String(), "err", err)
		return r.finalize(query, servfail(query)), nil
	}
	return r.finalize(query, resp), nil
}

// validate implements the opcode and qtype policy refusals: QUERY and
// IQUERY are serviced, anything else is NOTIMPL, and AXFR/IXFR/ANY are
// always refused since this engine is not an authoritative/zone-transfer
// server.
func (r *Resolver) validate(query *wire.Packet) (*wire.Packet, bool) {
	if query.Header.Opcode != wire.OpcodeQuery && query.Header.Opcode != wire.OpcodeIQuery {
		resp := query.Copy()
		resp.Header.Response = true
		resp.Header.Rcode = wire.RcodeNotImplemented
		return resp, true
	}
	q, ok := query.Question0()
	if !ok {
		resp := query.Copy()
		resp.Header.Response = true
		resp.Header.Rcode = wire.RcodeFormatError
		return resp, true
	}
	if q.Type == wire.TypeAXFR || q.Type == wire.TypeIXFR || q.Type == wire.TypeANY {
		resp := query.Copy()
		resp.Header.Response = true
		resp.Header.Rcode = wire.RcodeRefused
		return resp, true
	}
	return nil, false
}

// dispatch is the leader-only upstream path: it races or serializes
// across the pool per config, retrying up to max_retries on failure, and
// inserts a successful response into the cache before returning it.
func (r *Resolver) dispatch(ctx context.Context, query *wire.Packet, key cache.Key) (*wire.Packet, error) {
	cfg := r.cfg.Load()
	timeout := cfg.UpstreamTimeout()
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		var resp *wire.Packet
		var err error
		if cfg.EnableParallelQueries {
			resp, err = r.raceParallel(dctx, query)
		} else {
			resp, err = r.querySingle(dctx, query)
		}
		cancel()
		if err == nil {
			r.cache.Put(ctx, key, resp)
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Resolver) querySingle(ctx context.Context, query *wire.Packet) (*wire.Packet, error) {
	srv := r.pool.Select()
	if srv == nil {
		return nil, errNoUpstreams
	}
	start := time.Now()
	resp, err := r.queryServer(ctx, srv, query)
	r.recordLatency(srv, start, err)
	return resp, err
}

// raceParallel implements K-way racing dispatch: the first server to
// answer wins, the rest are abandoned (their goroutines still run to
// completion to update health tracking, but their result is
// discarded).
func (r *Resolver) raceParallel(ctx context.Context, query *wire.Packet) (*wire.Packet, error) {
	servers := r.pool.SelectParallel()
	if len(servers) == 0 {
		return nil, errNoUpstreams
	}
	type result struct {
		resp *wire.Packet
		err  error
	}
	ch := make(chan result, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			start := time.Now()
			resp, err := r.queryServer(ctx, srv, query)
			r.recordLatency(srv, start, err)
			ch <- result{resp, err}
		}()
	}
	var lastErr error
	for i := 0; i < len(servers); i++ {
		res := <-ch
		if res.err == nil {
			return res.resp, nil
		}
		lastErr = res.err
	}
	return nil, lastErr
}

func (r *Resolver) queryServer(ctx context.Context, srv *upstream.Server, query *wire.Packet) (*wire.Packet, error) {
	if r.stats != nil {
		r.stats.IncUpstreamRequest(srv.Addr)
	}
	resp, err := r.pool.Query(ctx, srv.Addr, query)
	if r.stats != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.stats.IncUpstreamResponse(srv.Addr, status)
	}
	return resp, err
}

func (r *Resolver) recordLatency(srv *upstream.Server, start time.Time, err error) {
	if err != nil {
		srv.RecordFailure()
		return
	}
	srv.RecordSuccess(time.Since(start))
}

// finalize rewrites the outbound id and echoes the query's EDNS
// participation: a cached or upstream-sourced answer is never returned
// to a client carrying a stale id from a prior query.
func (r *Resolver) finalize(query *wire.Packet, resp *wire.Packet) *wire.Packet {
	out := resp.Copy()
	out.Header.ID = query.Header.ID
	out.Header.RecursionDesired = query.Header.RecursionDesired
	out.Header.RecursionAvailable = true
	if len(out.Questions) == 0 {
		out.Questions = query.Questions
	}
	echoOPT(query, out)
	return out
}

// echoOPT gives a client that sent an EDNS0 OPT record one back in the
// response, cache hit or upstream-sourced alike, so it can keep
// negotiating its UDP payload size across the exchange. The server's own
// OPT participation is echoed rather than passed through verbatim: only
// UDP size, version and the DO bit survive, never the upstream's or a
// stale cached copy's option list.
func echoOPT(query, out *wire.Packet) {
	qOPT := query.OPT()
	if qOPT == nil {
		return
	}
	extra := out.Extra[:0:0]
	for _, rr := range out.Extra {
		if rr.Header.Type != wire.TypeOPT {
			extra = append(extra, rr)
		}
	}
	out.Extra = append(extra, wire.RR{
		Header: wire.RRHeader{Name: ".", Type: wire.TypeOPT, Class: wire.Class(qOPT.UDPSize)},
		Rdata:  &wire.OPTRdata{UDPSize: qOPT.UDPSize, Version: qOPT.Version, DO: qOPT.DO},
	})
	out.Header.ARCount = uint16(len(out.Extra))
}

func servfail(query *wire.Packet) *wire.Packet {
	resp := query.Copy()
	resp.Header.Response = true
	resp.Header.Rcode = wire.RcodeServerFailure
	resp.Header.ANCount, resp.Header.NSCount, resp.Header.ARCount = 0, 0, 0
	resp.Answer, resp.Ns, resp.Extra = nil, nil, nil
	return resp
}
