package upstream

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"
)

// udpIdleTimeout tears down a persistent UDP socket after this long with
// no traffic, so a dead or retired upstream doesn't pin an ephemeral port
// forever. The socket reopens lazily on the next query.
const udpIdleTimeout = 60 * time.Second

// tcpPoolMaxIdle bounds how many idle TCP connections are kept open per
// upstream address.
const tcpPoolMaxIdle = 5

// tcpIdleTimeout is how long an idle pooled TCP connection is kept before
// it is closed rather than handed back out.
const tcpIdleTimeout = 60 * time.Second

type udpResult struct {
	data []byte
	err  error
}

// udpPipe is the persistent UDP socket to one upstream address, shared by
// every concurrent query to that address: one socket bound to an
// ephemeral local port, with a single reader goroutine demultiplexing
// responses onto per-query channels by message id. This mirrors the
// lazy-open/idle-teardown idiom of a connection-reuse pipeline: the
// socket is dialed on first use and torn down after udpIdleTimeout of
// silence, rather than held open unconditionally.
type udpPipe struct {
	addr string

	mu      sync.Mutex
	conn    *net.UDPConn
	pending map[uint16]chan udpResult
}

func newUDPPipe(addr string) *udpPipe {
	return &udpPipe{addr: addr, pending: make(map[uint16]chan udpResult)}
}

func (p *udpPipe) ensure() (*net.UDPConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	raddr, err := net.ResolveUDPAddr("udp", p.addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	go p.readLoop(conn)
	return conn, nil
}

func (p *udpPipe) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(udpIdleTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			p.teardown(conn, err)
			return
		}
		if n < 2 {
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		id := binary.BigEndian.Uint16(data[:2])
		p.mu.Lock()
		ch, ok := p.pending[id]
		if ok {
			delete(p.pending, id)
		}
		p.mu.Unlock()
		if ok {
			ch <- udpResult{data: data}
		}
	}
}

func (p *udpPipe) teardown(conn *net.UDPConn, err error) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	pending := p.pending
	p.pending = make(map[uint16]chan udpResult)
	p.mu.Unlock()
	for _, ch := range pending {
		ch <- udpResult{err: err}
	}
}

// query sends payload (the wire-encoded message, already carrying id in
// its header) and waits for the response matching id, or for ctx to be
// done.
func (p *udpPipe) query(ctx context.Context, id uint16, payload []byte) ([]byte, error) {
	conn, err := p.ensure()
	if err != nil {
		return nil, err
	}
	ch := make(chan udpResult, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	if _, err := conn.Write(payload); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

type idleTCPConn struct {
	conn   net.Conn
	expiry time.Time
}

// tcpPool is a bounded pool of idle TCP connections to one upstream
// address, checked out for the length of a single length-prefixed
// query/response exchange and returned afterward. A connection that saw
// an error is never returned to the pool.
type tcpPool struct {
	addr string

	mu   sync.Mutex
	idle []idleTCPConn
}

func newTCPPool(addr string) *tcpPool {
	return &tcpPool{addr: addr}
}

// get returns an unexpired idle connection if one is available, otherwise
// dials a new one.
func (p *tcpPool) get(dial func(addr string) (net.Conn, error)) (net.Conn, error) {
	p.mu.Lock()
	now := time.Now()
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		c := p.idle[n]
		p.idle = p.idle[:n]
		if c.expiry.After(now) {
			p.mu.Unlock()
			return c.conn, nil
		}
		c.conn.Close()
	}
	p.mu.Unlock()
	return dial(p.addr)
}

// put returns conn to the pool, closing it instead if the pool is already
// at capacity.
func (p *tcpPool) put(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= tcpPoolMaxIdle {
		conn.Close()
		return
	}
	p.idle = append(p.idle, idleTCPConn{conn: conn, expiry: time.Now().Add(tcpIdleTimeout)})
}
