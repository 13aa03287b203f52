// Package bufpool implements the fixed-size recycled byte buffers used by
// the UDP and TCP listeners: 4 KiB for UDP datagrams, 64 KiB for TCP
// length-prefixed messages.
//
// Go exposes no goroutine- or thread-local storage, so "per-thread bounded
// free-list" is approximated with GOMAXPROCS-sized sharding: each shard is
// an independently bounded stack, and a buffer always returns to the shard
// it was acquired from regardless of which goroutine calls Release. This
// keeps the per-shard cap meaningful (no single shard can grow without
// bound) without claiming an affinity Go cannot actually provide. A shard
// that is empty (Acquire) or full (Release) falls back to heap allocation.
package bufpool

import (
	"runtime"
	"sync"
)

// Buf is an acquired buffer. Release returns it to the pool it came from.
type Buf struct {
	b     []byte
	shard *shard
}

// Bytes returns the slice backing this buffer; its length is the pool's
// configured buffer size.
func (p *Buf) Bytes() []byte { return p.b }

type shard struct {
	mu    sync.Mutex
	free  [][]byte
	limit int
}

// Pool is a bounded pool of fixed-size buffers.
type Pool struct {
	size   int
	shards []*shard
	next   uint32
	nextMu sync.Mutex
}

// New creates a Pool of buffers of the given size, with up to limit buffers
// retained per shard (the rest are dropped on Release and heap-allocated on
// Acquire when a shard runs dry).
func New(size, limit int) *Pool {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	p := &Pool{size: size, shards: make([]*shard, n)}
	for i := range p.shards {
		p.shards[i] = &shard{limit: limit}
	}
	return p
}

// UDP buffer pools use 4 KiB buffers, 100 retained per shard.
func NewUDPPool() *Pool { return New(4096, 100) }

// TCP buffer pools use 64 KiB buffers, 20 retained per shard.
func NewTCPPool() *Pool { return New(65536, 20) }

func (p *Pool) pickShard() *shard {
	p.nextMu.Lock()
	i := p.next % uint32(len(p.shards))
	p.next++
	p.nextMu.Unlock()
	return p.shards[i]
}

// Acquire returns a zero-initialized buffer of the pool's configured size.
func (p *Pool) Acquire() *Buf {
	s := p.pickShard()
	s.mu.Lock()
	n := len(s.free)
	if n == 0 {
		s.mu.Unlock()
		return &Buf{b: make([]byte, p.size), shard: s}
	}
	b := s.free[n-1]
	s.free = s.free[:n-1]
	s.mu.Unlock()
	for i := range b {
		b[i] = 0
	}
	return &Buf{b: b, shard: s}
}

// Release returns buf to the shard it was acquired from, or drops it (for
// the GC to reclaim) if that shard is already at its limit.
func (p *Pool) Release(buf *Buf) {
	if buf == nil || buf.shard == nil {
		return
	}
	s := buf.shard
	s.mu.Lock()
	if len(s.free) < s.limit {
		s.free = append(s.free, buf.b)
	}
	s.mu.Unlock()
	buf.b = nil
	buf.shard = nil
}
