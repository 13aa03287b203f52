package upstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heimdall-dns/heimdall/wire"
)

// idSecret is a per-process random value XOR'd into every outbound query
// id: a fresh id drawn from a per-process counter XOR'd with a
// per-process random secret, preventing trivial id-guessing.
var idSecret = uint16(rand.New(rand.NewSource(time.Now().UnixNano())).Intn(1 << 16))

var idCounter uint32

func nextOutboundID() uint16 {
	c := uint16(atomic.AddUint32(&idCounter, 1))
	return c ^ idSecret
}

// TimeoutError reports a query that did not complete within its deadline.
type TimeoutError struct {
	Addr string
}

func (e TimeoutError) Error() string { return fmt.Sprintf("upstream: timeout querying %s", e.Addr) }

// Client dispatches queries to upstream servers over UDP (with TCP
// fallback on truncation) and is shared across every Server in a Pool.
// Each destination address gets a persistent UDP socket plus a bounded
// idle TCP connection pool, lazily created on first use. The UDP socket is
// closed after udpIdleTimeout without traffic and reopened on the next
// query; idle TCP connections expire after tcpIdleTimeout.
type Client struct {
	timeout time.Duration

	mu  sync.Mutex
	udp map[string]*udpPipe
	tcp map[string]*tcpPool
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{timeout: timeout, udp: make(map[string]*udpPipe), tcp: make(map[string]*tcpPool)}
}

func (c *Client) udpPipeFor(addr string) *udpPipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.udp[addr]
	if !ok {
		p = newUDPPipe(addr)
		c.udp[addr] = p
	}
	return p
}

func (c *Client) tcpPoolFor(addr string) *tcpPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.tcp[addr]
	if !ok {
		p = newTCPPool(addr)
		c.tcp[addr] = p
	}
	return p
}

// Query sends query to addr over UDP, retrying over TCP transparently if
// the UDP response comes back truncated (TC=1).
func (c *Client) Query(ctx context.Context, addr string, query *wire.Packet) (*wire.Packet, error) {
	resp, err := c.queryUDP(ctx, addr, query)
	if err != nil {
		return nil, err
	}
	if resp.Header.Truncated {
		return c.queryTCP(ctx, addr, query)
	}
	return resp, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		d = dl
	}
	return d
}

func (c *Client) queryUDP(ctx context.Context, addr string, query *wire.Packet) (*wire.Packet, error) {
	dctx, cancel := context.WithDeadline(ctx, c.deadline(ctx))
	defer cancel()

	outID := nextOutboundID()
	outPkt := *query
	outPkt.Header.ID = outID

	buf := make([]byte, 4096)
	n, err := outPkt.Serialize(buf)
	if err != nil {
		return nil, err
	}

	data, err := c.udpPipeFor(addr).query(dctx, outID, buf[:n])
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, TimeoutError{Addr: addr}
		}
		return nil, err
	}
	resp, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}
	if resp.Header.ID != outID {
		return nil, fmt.Errorf("upstream: id mismatch from %s", addr)
	}
	return resp, nil
}

func (c *Client) queryTCP(ctx context.Context, addr string, query *wire.Packet) (*wire.Packet, error) {
	pool := c.tcpPoolFor(addr)
	conn, err := pool.get(func(addr string) (net.Conn, error) {
		dialer := net.Dialer{}
		return dialer.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		conn.Close()
		return nil, err
	}

	outID := nextOutboundID()
	outPkt := *query
	outPkt.Header.ID = outID

	buf := make([]byte, 65536)
	n, err := outPkt.Serialize(buf)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(n))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(buf[:n]); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := readFull(conn, lenPrefix[:]); err != nil {
		conn.Close()
		return nil, classifyReadErr(err, addr)
	}
	respLen := binary.BigEndian.Uint16(lenPrefix[:])
	rbuf := make([]byte, respLen)
	if _, err := readFull(conn, rbuf); err != nil {
		conn.Close()
		return nil, classifyReadErr(err, addr)
	}

	resp, err := wire.Parse(rbuf)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Header.ID != outID {
		conn.Close()
		return nil, fmt.Errorf("upstream: id mismatch from %s", addr)
	}

	pool.put(conn)
	return resp, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func classifyReadErr(err error, addr string) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return TimeoutError{Addr: addr}
	}
	return err
}

// Probe sends a lightweight ". NS" query to addr, used by the background
// health-probe loop to test whether an unhealthy server has recovered.
func (c *Client) Probe(ctx context.Context, addr string) (ok bool, latency time.Duration) {
	q := &wire.Packet{
		Header:    wire.Header{RecursionDesired: true, QDCount: 1},
		Questions: []wire.Question{{Name: ".", Type: wire.TypeNS, Class: wire.ClassINET}},
	}
	start := time.Now()
	_, err := c.Query(ctx, addr, q)
	return err == nil, time.Since(start)
}
