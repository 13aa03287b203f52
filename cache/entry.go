package cache

import (
	"sync/atomic"
	"time"

	"github.com/heimdall-dns/heimdall/wire"
)

// Entry is an immutable cached response plus its bookkeeping: every
// exported accessor returns a copy (Packet.Copy) rather than the live
// pointer, and the only field mutated in place is the access counter,
// which is read-modify-write safe via atomics and does not affect
// correctness of concurrent readers.
type Entry struct {
	packet      *wire.Packet
	expiry      time.Time // monotonic-derived, see now()
	originalTTL uint32
	isNegative  bool
	isNXDomain  bool
	isNoData    bool
	accessCount int32
}

// now is the single seam through which this package reads the clock,
// overridden in tests to simulate TTL expiry without real sleeps.
var now = func() time.Time { return time.Now() }

func newEntry(p *wire.Packet, ttl uint32, negative, nxdomain, nodata bool) *Entry {
	return &Entry{
		packet:      p.Copy(),
		expiry:      now().Add(time.Duration(ttl) * time.Second),
		originalTTL: ttl,
		isNegative:  negative,
		isNXDomain:  nxdomain,
		isNoData:    nodata,
	}
}

// Live reports whether the entry has not yet expired.
func (e *Entry) Live() bool {
	return now().Before(e.expiry)
}

// RemainingTTL returns max(0, expiry - now), in whole seconds, per the
// cache's TTL-rewrite-on-retrieval contract.
func (e *Entry) RemainingTTL() uint32 {
	d := e.expiry.Sub(now())
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if secs > 0xFFFFFFFF {
		secs = 0xFFFFFFFF
	}
	return uint32(secs)
}

// Response returns a fresh copy of the cached packet with every answer,
// authority and additional RR's TTL rewritten to the remaining TTL.
func (e *Entry) Response() *wire.Packet {
	p := e.packet.Copy()
	remaining := e.RemainingTTL()
	rewrite := func(rrs []wire.RR) {
		for i := range rrs {
			rrs[i].Header.TTL = remaining
		}
	}
	rewrite(p.Answer)
	rewrite(p.Ns)
	rewrite(p.Extra)
	return p
}

func (e *Entry) touch() int32 {
	return atomic.AddInt32(&e.accessCount, 1)
}

func (e *Entry) IsNegative() bool { return e.isNegative }
func (e *Entry) IsNXDomain() bool { return e.isNXDomain }
func (e *Entry) IsNoData() bool   { return e.isNoData }
func (e *Entry) OriginalTTL() uint32 { return e.originalTTL }
