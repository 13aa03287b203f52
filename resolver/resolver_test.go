package resolver

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heimdall-dns/heimdall/cache"
	"github.com/heimdall-dns/heimdall/config"
	"github.com/heimdall-dns/heimdall/upstream"
	"github.com/heimdall-dns/heimdall/wire"
)

func testQuery(name string) *wire.Packet {
	return &wire.Packet{
		Header:    wire.Header{ID: 0x1234, RecursionDesired: true, QDCount: 1},
		Questions: []wire.Question{{Name: name, Type: wire.TypeA, Class: wire.ClassINET}},
	}
}

func aAnswer(query *wire.Packet, ttl uint32) *wire.Packet {
	q := query.Questions[0]
	resp := query.Copy()
	resp.Header.Response = true
	resp.Header.RecursionAvailable = true
	resp.Header.ANCount = 1
	resp.Answer = []wire.RR{{
		Header: wire.RRHeader{Name: q.Name, Type: wire.TypeA, Class: wire.ClassINET, TTL: ttl},
		Rdata:  &wire.ARdata{IP: net.ParseIP("93.184.216.34").To4()},
	}}
	return resp
}

func nxdomainAnswer(query *wire.Packet) *wire.Packet {
	q := query.Questions[0]
	resp := query.Copy()
	resp.Header.Response = true
	resp.Header.RecursionAvailable = true
	resp.Header.Rcode = wire.RcodeNameError
	resp.Header.NSCount = 1
	resp.Ns = []wire.RR{{
		Header: wire.RRHeader{Name: q.Name, Type: wire.TypeSOA, Class: wire.ClassINET, TTL: 3600},
		Rdata: &wire.SOARdata{
			Ns: "ns1." + q.Name, Mbox: "hostmaster." + q.Name,
			Serial: 1, Refresh: 7200, Retry: 3600, Expire: 1209600, Minimum: 300,
		},
	}}
	return resp
}

// startUDPUpstream runs a minimal fake upstream: respond decides the
// reply for each received query, and reqCount tallies how many datagrams
// were received (used by the dedup test to assert only one query left
// the process for 100 concurrent callers).
func startUDPUpstream(t *testing.T, respond func(q *wire.Packet) *wire.Packet, reqCount *int64) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if reqCount != nil {
				atomic.AddInt64(reqCount, 1)
			}
			q, err := wire.Parse(buf[:n])
			if err != nil {
				continue
			}
			resp := respond(q)
			resp.Header.ID = q.Header.ID
			out := make([]byte, 4096)
			ln, err := resp.Serialize(out)
			if err != nil {
				continue
			}
			conn.WriteToUDP(out[:ln], addr)
		}
	}()
	return conn.LocalAddr().String()
}

func startTCPUpstreamOn(t *testing.T, addr string, respond func(q *wire.Packet) *wire.Packet) string {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				var lenBuf [2]byte
				if _, err := net.Conn(c).Read(lenBuf[:]); err != nil {
					return
				}
				n := binary.BigEndian.Uint16(lenBuf[:])
				buf := make([]byte, n)
				total := 0
				for total < int(n) {
					m, err := c.Read(buf[total:])
					total += m
					if err != nil {
						return
					}
				}
				q, err := wire.Parse(buf)
				if err != nil {
					return
				}
				resp := respond(q)
				resp.Header.ID = q.Header.ID
				out := make([]byte, 65536)
				ln2, err := resp.Serialize(out)
				if err != nil {
					return
				}
				var prefix [2]byte
				binary.BigEndian.PutUint16(prefix[:], uint16(ln2))
				c.Write(prefix[:])
				c.Write(out[:ln2])
			}()
		}
	}()
	return ln.Addr().String()
}

func newTestResolver(t *testing.T, addrs []string, cfg *config.Config) (*Resolver, *cache.Cache, *upstream.Pool) {
	t.Helper()
	c := cache.New(cache.Options{MaxCacheSize: 1000, HardenBelowNXDomain: true})
	client := upstream.NewClient(cfg.UpstreamTimeout())
	pool := upstream.NewPool(addrs, client, cfg.ParallelK, nil)
	holder := config.NewHolder(cfg)
	return New(c, pool, holder, nil), c, pool
}

func baseCfg(addrs []string) *config.Config {
	cfg := config.Default()
	cfg.UpstreamServers = addrs
	cfg.UpstreamTimeoutS = 2
	cfg.MaxRetries = 1
	return cfg
}

func TestResolveCacheHitNeverTouchesUpstream(t *testing.T) {
	var hits int64
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet { return aAnswer(q, 300) }, &hits)
	cfg := baseCfg([]string{addr})
	r, c, _ := newTestResolver(t, []string{addr}, cfg)

	q := testQuery("example.com.")
	key := cache.KeyFromQuestion(q.Questions[0])
	c.Put(context.Background(), key, aAnswer(q, 300))

	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Equal(t, wire.RcodeSuccess, resp.Header.Rcode)
	require.Equal(t, uint16(0x1234), resp.Header.ID)
	require.Zero(t, atomic.LoadInt64(&hits))
}

func TestResolveForwardsOnMissAndCachesResult(t *testing.T) {
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet { return aAnswer(q, 300) }, nil)
	cfg := baseCfg([]string{addr})
	r, c, _ := newTestResolver(t, []string{addr}, cfg)

	q := testQuery("example.org.")
	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Equal(t, wire.RcodeSuccess, resp.Header.Rcode)
	require.Len(t, resp.Answer, 1)

	key := cache.KeyFromQuestion(q.Questions[0])
	_, ok := c.Get(context.Background(), key)
	require.True(t, ok)
}

func TestResolveNXDomainIsCachedNegatively(t *testing.T) {
	var hits int64
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet { return nxdomainAnswer(q) }, &hits)
	cfg := baseCfg([]string{addr})
	r, _, pool := newTestResolver(t, []string{addr}, cfg)

	q := testQuery("nosuchdomain.example.")
	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Equal(t, wire.RcodeNameError, resp.Header.Rcode)

	pool.Stop()
	resp2, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Equal(t, wire.RcodeNameError, resp2.Header.Rcode)
	require.EqualValues(t, 1, atomic.LoadInt64(&hits))
}

func TestResolveUDPTruncationFallsBackToTCP(t *testing.T) {
	udpAddr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet {
		resp := q.Copy()
		resp.Header.Response = true
		resp.Header.Truncated = true
		return resp
	}, nil)
	startTCPUpstreamOn(t, udpAddr, func(q *wire.Packet) *wire.Packet { return aAnswer(q, 300) })

	client := upstream.NewClient(2 * time.Second)
	resp, err := client.Query(context.Background(), udpAddr, testQuery("trunc.example."))
	require.NoError(t, err)
	require.False(t, resp.Header.Truncated)
	require.Len(t, resp.Answer, 1)
}

func TestResolveSERVFAILOnUpstreamExhaustionNotCached(t *testing.T) {
	deadConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	addr := deadConn.LocalAddr().String()
	deadConn.Close() // nothing is listening anymore

	cfg := baseCfg([]string{addr})
	cfg.UpstreamTimeoutS = 1
	cfg.MaxRetries = 1
	r, c, _ := newTestResolver(t, []string{addr}, cfg)

	q := testQuery("unreachable.example.")
	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Equal(t, wire.RcodeServerFailure, resp.Header.Rcode)

	key := cache.KeyFromQuestion(q.Questions[0])
	_, ok := c.Get(context.Background(), key)
	require.False(t, ok)
}

func withOPT(query *wire.Packet, udpSize uint16, do bool) *wire.Packet {
	q := query.Copy()
	q.Extra = append(q.Extra, wire.RR{
		Header: wire.RRHeader{Name: ".", Type: wire.TypeOPT, Class: wire.Class(udpSize)},
		Rdata:  &wire.OPTRdata{UDPSize: udpSize, DO: do},
	})
	q.Header.ARCount = uint16(len(q.Extra))
	return q
}

func TestResolveEchoesEDNSOPTOnCacheHit(t *testing.T) {
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet { return aAnswer(q, 300) }, nil)
	cfg := baseCfg([]string{addr})
	r, c, _ := newTestResolver(t, []string{addr}, cfg)

	q := withOPT(testQuery("edns-hit.example."), 4096, true)
	key := cache.KeyFromQuestion(q.Questions[0])
	c.Put(context.Background(), key, aAnswer(q, 300))

	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	opt := resp.OPT()
	require.NotNil(t, opt)
	require.EqualValues(t, 4096, opt.UDPSize)
	require.True(t, opt.DO)
}

func TestResolveEchoesEDNSOPTOnUpstreamMiss(t *testing.T) {
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet { return aAnswer(q, 300) }, nil)
	cfg := baseCfg([]string{addr})
	r, _, _ := newTestResolver(t, []string{addr}, cfg)

	q := withOPT(testQuery("edns-miss.example."), 1232, false)
	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	opt := resp.OPT()
	require.NotNil(t, opt)
	require.EqualValues(t, 1232, opt.UDPSize)
	require.False(t, opt.DO)
}

func TestResolveNoOPTWhenQueryCarriesNone(t *testing.T) {
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet { return aAnswer(q, 300) }, nil)
	cfg := baseCfg([]string{addr})
	r, _, _ := newTestResolver(t, []string{addr}, cfg)

	resp, err := r.Resolve(context.Background(), testQuery("no-edns.example."), ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Nil(t, resp.OPT())
}

func TestResolveRefusesANYQueries(t *testing.T) {
	r, _, _ := newTestResolver(t, nil, baseCfg(nil))

	q := &wire.Packet{
		Header:    wire.Header{ID: 0x55, RecursionDesired: true, QDCount: 1},
		Questions: []wire.Question{{Name: "any.example.", Type: wire.TypeANY, Class: wire.ClassINET}},
	}
	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Equal(t, wire.RcodeRefused, resp.Header.Rcode)
}

func TestResolveAcceptsIQuery(t *testing.T) {
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet { return aAnswer(q, 300) }, nil)
	cfg := baseCfg([]string{addr})
	r, _, _ := newTestResolver(t, []string{addr}, cfg)

	q := testQuery("iquery.example.")
	q.Header.Opcode = wire.OpcodeIQuery
	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.NotEqual(t, wire.RcodeNotImplemented, resp.Header.Rcode)
}

func TestResolveRejectsUnknownOpcode(t *testing.T) {
	r, _, _ := newTestResolver(t, nil, baseCfg(nil))

	q := testQuery("status.example.")
	q.Header.Opcode = wire.OpcodeStatus
	resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
	require.NoError(t, err)
	require.Equal(t, wire.RcodeNotImplemented, resp.Header.Rcode)
}

func TestResolveDeduplicatesConcurrentQueriesForSameKey(t *testing.T) {
	var hits int64
	addr := startUDPUpstream(t, func(q *wire.Packet) *wire.Packet {
		time.Sleep(20 * time.Millisecond)
		return aAnswer(q, 300)
	}, &hits)
	cfg := baseCfg([]string{addr})
	r, _, _ := newTestResolver(t, []string{addr}, cfg)

	const n = 100
	done := make(chan *wire.Packet, n)
	for i := 0; i < n; i++ {
		go func() {
			q := testQuery("dedup.example.")
			resp, err := r.Resolve(context.Background(), q, ClientInfo{Protocol: "udp"})
			require.NoError(t, err)
			done <- resp
		}()
	}
	for i := 0; i < n; i++ {
		resp := <-done
		require.Equal(t, wire.RcodeSuccess, resp.Header.Rcode)
	}
	require.LessOrEqual(t, atomic.LoadInt64(&hits), int64(2))
}
