// Package cache implements Heimdall's two-tier TTL-aware response cache:
// a small hot tier and a larger main tier, each a sharded approximate-LRU
// store, plus negative caching with RFC 8020 suffix matching, snapshot
// persistence, and an optional L2 backend.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/heimdall-dns/heimdall/logger"
	"github.com/heimdall-dns/heimdall/stats"
	"github.com/heimdall-dns/heimdall/wire"
)

var log = logger.With("component", "cache")

// Options configures a Cache. Zero-valued fields are replaced with the
// package's stated defaults by New.
type Options struct {
	MaxCacheSize       int
	HotCachePercentage int // default 10
	PromotionThreshold int32 // default 3
	MinTTL             uint32
	MaxTTL             uint32 // default 86400
	NegativeCacheTTL   uint32 // default 3600

	// HardenBelowNXDomain enables RFC 8020 suffix matching: a cached
	// NXDOMAIN for an ancestor name implies NXDOMAIN for descendants.
	HardenBelowNXDomain bool

	// ShuffleAnswers, if set, reorders a response's answer RRs on
	// retrieval; off by default.
	ShuffleAnswers func([]wire.RR)

	// PrefetchTrigger, if > 0, marks an entry eligible for background
	// refresh once its access count reaches this value while it is
	// within PrefetchWindow of expiry; disabled by default.
	PrefetchTrigger int32
	PrefetchWindow  time.Duration

	Backend Backend
	Stats   *stats.Stats
}

// Cache is the pure two-tier store. It holds no reference to an upstream
// pool: dispatching on miss is resolver.Resolver's job.
type Cache struct {
	hot  *tier
	main *tier

	negTrie *negativeTrie
	harden  bool

	minTTL, maxTTL, negTTL uint32
	promotionThreshold     int32

	backend Backend
	stats   *stats.Stats

	shuffle         func([]wire.RR)
	prefetchTrigger int32
	prefetchWindow  time.Duration
	prefetchCh      chan Key
}

func New(opts Options) *Cache {
	if opts.HotCachePercentage <= 0 {
		opts.HotCachePercentage = 10
	}
	if opts.PromotionThreshold <= 0 {
		opts.PromotionThreshold = 3
	}
	if opts.MaxTTL == 0 {
		opts.MaxTTL = 86400
	}
	if opts.NegativeCacheTTL == 0 {
		opts.NegativeCacheTTL = 3600
	}
	if opts.MaxCacheSize <= 0 {
		opts.MaxCacheSize = 10000
	}
	hotCap := opts.MaxCacheSize * opts.HotCachePercentage / 100
	if hotCap < 1 {
		hotCap = 1
	}
	mainCap := opts.MaxCacheSize - hotCap
	if mainCap < 1 {
		mainCap = 1
	}
	c := &Cache{
		hot:                newTier(hotCap),
		main:               newTier(mainCap),
		negTrie:            newNegativeTrie(),
		harden:             opts.HardenBelowNXDomain,
		minTTL:             opts.MinTTL,
		maxTTL:             opts.MaxTTL,
		negTTL:             opts.NegativeCacheTTL,
		promotionThreshold: opts.PromotionThreshold,
		backend:            opts.Backend,
		stats:              opts.Stats,
		shuffle:            opts.ShuffleAnswers,
		prefetchTrigger:    opts.PrefetchTrigger,
		prefetchWindow:     opts.PrefetchWindow,
	}
	if opts.PrefetchTrigger > 0 {
		c.prefetchCh = make(chan Key, 256)
	}
	return c
}

// Get implements the lookup contract: hot tier, then main tier (with
// hot-promotion past the access threshold), then the optional L2
// backend. The returned packet already has TTLs rewritten to the
// remaining value.
func (c *Cache) Get(ctx context.Context, key Key) (*wire.Packet, bool) {
	if e, ok := c.hot.get(key); ok {
		if e.Live() {
			c.hit()
			return c.present(e), true
		}
		c.hot.remove(key)
	}

	if e, ok := c.main.get(key); ok {
		if e.Live() {
			c.hit()
			if e.touch() >= c.promotionThreshold {
				c.promote(key, e)
			} else if c.prefetchEligible(e) {
				c.signalPrefetch(key)
			}
			return c.present(e), true
		}
		c.main.remove(key)
	}

	if c.harden && c.negTrie.CoveredByAncestorNXDomain(key.Name) {
		c.hit()
		p := &wire.Packet{
			Header:    wire.Header{Response: true, RecursionAvailable: true, Rcode: wire.RcodeNameError, QDCount: 1},
			Questions: []wire.Question{{Name: key.Name, Type: key.Type, Class: key.Class}},
		}
		return p, true
	}

	if c.backend != nil {
		if data, ok, err := c.backend.Get(ctx, key); err == nil && ok {
			if p, err := wire.Parse(data); err == nil {
				ttl, negative, nxdomain, nodata := classify(p, c.minTTL, c.maxTTL, c.negTTL)
				if ttl > 0 {
					e := newEntry(p, ttl, negative, nxdomain, nodata)
					c.main.put(key, e)
					c.hit()
					return c.present(e), true
				}
			}
		} else if err != nil {
			log.Debug("l2 get failed", "key", key.Name, "err", err)
		}
	}

	c.miss()
	return nil, false
}

func (c *Cache) present(e *Entry) *wire.Packet {
	p := e.Response()
	if c.shuffle != nil {
		c.shuffle(p.Answer)
	}
	return p
}

func (c *Cache) promote(key Key, e *Entry) {
	c.main.remove(key)
	if _, evicted := c.hot.put(key, e); evicted {
		c.evicted()
		c.reportSize()
	}
}

func (c *Cache) prefetchEligible(e *Entry) bool {
	if c.prefetchTrigger <= 0 {
		return false
	}
	return atomic.LoadInt32(&e.accessCount) >= c.prefetchTrigger && e.expiry.Sub(now()) <= c.prefetchWindow
}

func (c *Cache) signalPrefetch(key Key) {
	select {
	case c.prefetchCh <- key:
	default:
	}
}

// PrefetchCandidates returns the channel of keys that became prefetch
// eligible, for a caller to drain and re-resolve in the background;
// resolver.Resolver does not read it. nil if prefetch is disabled.
func (c *Cache) PrefetchCandidates() <-chan Key { return c.prefetchCh }

// Put inserts resp under key, computing its TTL and negative-cache flags.
// It returns false if the computed TTL is zero (not cached).
func (c *Cache) Put(ctx context.Context, key Key, resp *wire.Packet) bool {
	ttl, negative, nxdomain, nodata := classify(resp, c.minTTL, c.maxTTL, c.negTTL)
	if ttl == 0 {
		return false
	}
	e := newEntry(resp, ttl, negative, nxdomain, nodata)
	if _, evicted := c.main.put(key, e); evicted {
		c.evicted()
	}
	if nxdomain && c.harden {
		c.negTrie.insert(key.Name)
	}
	c.reportSize()
	if c.backend != nil {
		buf := make([]byte, 65536)
		if n, err := resp.Serialize(buf); err == nil {
			data := append([]byte(nil), buf[:n]...)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := c.backend.Set(ctx, key, data, time.Duration(ttl)*time.Second); err != nil {
					log.Debug("l2 set failed", "key", key.Name, "err", err)
				}
			}()
		}
	}
	return true
}

// Flush removes key from both tiers and the negative trie, for callers
// that need to evict an entry on demand (e.g. an admin command) rather
// than waiting on TTL expiry.
func (c *Cache) Flush(key Key) {
	c.hot.remove(key)
	c.main.remove(key)
	c.negTrie.remove(key.Name)
	c.reportSize()
}

// Size returns the total number of live entries across both tiers
// (approximate: expired-but-not-yet-swept entries are still counted).
func (c *Cache) Size() int {
	return c.hot.size() + c.main.size()
}

func (c *Cache) hit() {
	if c.stats != nil {
		c.stats.CacheHits.Add(1)
	}
}
func (c *Cache) miss() {
	if c.stats != nil {
		c.stats.CacheMisses.Add(1)
	}
}
func (c *Cache) evicted() {
	if c.stats != nil {
		c.stats.CacheEvictions.Add(1)
	}
}
func (c *Cache) reportSize() {
	if c.stats != nil {
		c.stats.SetCacheSize(c.Size())
	}
}
