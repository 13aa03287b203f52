package resolver

import (
	"sync"

	"github.com/heimdall-dns/heimdall/cache"
	"github.com/heimdall-dns/heimdall/wire"
)

// inFlight is a deduplication record keyed by cache.Key: the first
// requester for a key becomes the leader and dispatches upstream; every
// other requester for the same key subscribes by waiting on done, which
// the leader closes when it has an answer. Closing a channel already
// wakes every <-done waiter simultaneously, so no separate broadcast
// primitive is needed.
type inFlight struct {
	answer *wire.Packet
	err    error
	done   chan struct{}
}

type dedupTable struct {
	mu    sync.Mutex
	table map[cache.Key]*inFlight
}

func newDedupTable() *dedupTable {
	return &dedupTable{table: make(map[cache.Key]*inFlight)}
}

// join either registers the caller as the leader for key (second return
// true) or returns the existing in-flight record to subscribe to (false).
func (d *dedupTable) join(key cache.Key) (*inFlight, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.table[key]; ok {
		return req, false
	}
	req := &inFlight{done: make(chan struct{})}
	d.table[key] = req
	return req, true
}

// finish publishes the leader's result and wakes every subscriber.
func (d *dedupTable) finish(key cache.Key, req *inFlight, answer *wire.Packet, err error) {
	req.answer = answer
	req.err = err
	close(req.done)

	d.mu.Lock()
	delete(d.table, key)
	d.mu.Unlock()
}
