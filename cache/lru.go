package cache

import (
	"container/list"
	"sync"
)

// tier is one of the cache's two storage layers (hot or main): a sharded,
// approximate-LRU map, bounding lock contention across a fixed number of
// independent shards, each with its own mutex and LRU list, selected by
// the key's precomputed hash — "approximate" because eviction only
// considers the shard the evicted key happened to land in, not a global
// LRU order.
type tier struct {
	shards   []*tierShard
	capacity int
}

type tierShard struct {
	mu       sync.Mutex
	elems    map[Key]*list.Element
	order    *list.List // front = most recently used
	capacity int
}

type tierItem struct {
	key   Key
	entry *Entry
}

const numShards = 16

func newTier(capacity int) *tier {
	t := &tier{capacity: capacity}
	perShard := capacity / numShards
	if perShard < 1 {
		perShard = 1
	}
	t.shards = make([]*tierShard, numShards)
	for i := range t.shards {
		t.shards[i] = &tierShard{
			elems:    make(map[Key]*list.Element),
			order:    list.New(),
			capacity: perShard,
		}
	}
	return t
}

func (t *tier) shardFor(k Key) *tierShard {
	return t.shards[k.Hash()%uint64(len(t.shards))]
}

// get returns the entry for k, touching it as most-recently-used. The
// second return is false on miss.
func (t *tier) get(k Key) (*Entry, bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elems[k]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*tierItem).entry, true
}

// put inserts or replaces the entry for k, evicting the shard's
// least-recently-used entry first if the shard is at capacity. It returns
// the evicted key, if any, so the caller can update aggregate stats.
func (t *tier) put(k Key, e *Entry) (evicted Key, didEvict bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.elems[k]; ok {
		el.Value.(*tierItem).entry = e
		s.order.MoveToFront(el)
		return Key{}, false
	}
	if len(s.elems) >= s.capacity {
		back := s.order.Back()
		if back != nil {
			old := back.Value.(*tierItem)
			s.order.Remove(back)
			delete(s.elems, old.key)
			evicted, didEvict = old.key, true
		}
	}
	el := s.order.PushFront(&tierItem{key: k, entry: e})
	s.elems[k] = el
	return evicted, didEvict
}

// remove deletes k, if present.
func (t *tier) remove(k Key) bool {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elems[k]
	if !ok {
		return false
	}
	s.order.Remove(el)
	delete(s.elems, k)
	return true
}

// size returns the total number of entries across all shards.
func (t *tier) size() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.elems)
		s.mu.Unlock()
	}
	return n
}

// forEach calls fn for every (key, entry) pair in the tier, expired or
// not; persistence snapshots use it and skip expired entries themselves.
func (t *tier) forEach(fn func(Key, *Entry)) {
	for _, s := range t.shards {
		s.mu.Lock()
		items := make([]*tierItem, 0, len(s.elems))
		for _, el := range s.elems {
			items = append(items, el.Value.(*tierItem))
		}
		s.mu.Unlock()
		for _, it := range items {
			fn(it.key, it.entry)
		}
	}
}
