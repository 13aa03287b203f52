package listener

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/heimdall-dns/heimdall/bufpool"
	"github.com/heimdall-dns/heimdall/resolver"
	"github.com/heimdall-dns/heimdall/stats"
	"github.com/heimdall-dns/heimdall/wire"
)

// UDPListener receives datagrams, dispatches each to a Resolver on its own
// goroutine bounded by a semaphore, and writes the serialized response
// back to the sender. Truncation (RFC 1035 §2.3.4) is applied when a
// response would not fit the client's advertised (or default) UDP size;
// Heimdall never silently upgrades a UDP client to TCP itself (decision
// recorded in DESIGN.md — the client is expected to retry over TCP on
// TC=1, per the protocol).
type UDPListener struct {
	id       string
	addr     string
	resolver Resolver
	stats    *stats.Stats
	pool     *bufpool.Pool

	sem *semaphore.Weighted

	conn   *net.UDPConn
	wg     sync.WaitGroup
	closed chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewUDPListener constructs a listener bound to addr (not yet listening;
// call Start). maxConcurrent bounds in-flight queries; 0 uses the
// default of 1000.
func NewUDPListener(id, addr string, r Resolver, st *stats.Stats, maxConcurrent int) *UDPListener {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPListener{
		id:       id,
		addr:     addr,
		resolver: r,
		stats:    st,
		pool:     bufpool.NewUDPPool(),
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		closed:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (l *UDPListener) String() string { return l.id }

// Start binds the UDP socket and runs the receive loop until Stop is
// called or the socket errors out.
func (l *UDPListener) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	l.conn = conn
	log.Info("starting listener", "id", l.id, "protocol", "udp", "addr", l.addr)

	for {
		buf := l.pool.Acquire()
		n, from, err := conn.ReadFromUDP(buf.Bytes())
		if err != nil {
			l.pool.Release(buf)
			select {
			case <-l.closed:
				return nil
			default:
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return err
			}
		}

		msg := append([]byte(nil), buf.Bytes()[:n]...)
		l.pool.Release(buf)

		if err := l.sem.Acquire(l.ctx, 1); err != nil {
			return nil // context cancelled by Stop
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			l.handle(msg, from)
		}()
	}
}

func (l *UDPListener) handle(msg []byte, from *net.UDPAddr) {
	query, err := wire.Parse(msg)
	if err != nil {
		if l.stats != nil {
			l.stats.IncMalformed("udp")
		}
		log.Debug("malformed query dropped", "addr", from.String(), "err", err)
		return
	}

	ci := resolver.ClientInfo{SourceIP: from.IP, Listener: l.id, Protocol: "udp"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	resp, err := l.resolver.Resolve(ctx, query, ci)
	cancel()
	if err != nil {
		log.Error("resolve failed", "id", l.id, "addr", from.String(), "err", err)
		return
	}

	maxSize := minMsgSize
	if opt := query.OPT(); opt != nil && int(opt.UDPSize) > maxSize {
		maxSize = int(opt.UDPSize)
	}
	if maxSize > maxUDPSize {
		maxSize = maxUDPSize
	}

	out := make([]byte, maxSize)
	n, err := resp.Serialize(out)
	if err != nil {
		log.Error("serialize failed", "id", l.id, "err", err)
		return
	}
	if _, err := l.conn.WriteToUDP(out[:n], from); err != nil {
		log.Debug("write failed", "addr", from.String(), "err", err)
	}
}

// Stop closes the listening socket and waits (up to the given grace
// period) for in-flight queries to finish: stop accepting, drain, then
// return.
func (l *UDPListener) Stop(grace time.Duration) {
	close(l.closed)
	l.cancel()
	if l.conn != nil {
		l.conn.Close()
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn("udp listener shutdown grace period exceeded", "id", l.id)
	}
}
