package listener

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/heimdall-dns/heimdall/bufpool"
	"github.com/heimdall-dns/heimdall/resolver"
	"github.com/heimdall-dns/heimdall/stats"
	"github.com/heimdall-dns/heimdall/wire"
)

const tcpIdleTimeout = 60 * time.Second

// TCPListener accepts connections, reads 2-byte length-prefixed messages
// (RFC 1035 §4.2.2) and dispatches each to a Resolver, bounded by the same
// concurrency semaphore style as UDPListener.
type TCPListener struct {
	id       string
	addr     string
	resolver Resolver
	stats    *stats.Stats
	pool     *bufpool.Pool

	sem *semaphore.Weighted

	ln     net.Listener
	wg     sync.WaitGroup
	closed chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTCPListener(id, addr string, r Resolver, st *stats.Stats, maxConcurrent int) *TCPListener {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPListener{
		id:       id,
		addr:     addr,
		resolver: r,
		stats:    st,
		pool:     bufpool.NewTCPPool(),
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		closed:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (l *TCPListener) String() string { return l.id }

func (l *TCPListener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	log.Info("starting listener", "id", l.id, "protocol", "tcp", "addr", l.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return nil
			default:
				return err
			}
		}

		if err := l.sem.Acquire(l.ctx, 1); err != nil {
			conn.Close()
			return nil
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			l.serve(conn)
		}()
	}
}

// serve handles every length-prefixed message on one connection until the
// client closes it or the idle timeout elapses; a single connection may
// carry multiple pipelined queries.
func (l *TCPListener) serve(conn net.Conn) {
	defer conn.Close()
	remote, _ := conn.RemoteAddr().(*net.TCPAddr)

	for {
		conn.SetReadDeadline(time.Now().Add(tcpIdleTimeout))

		var lenBuf [2]byte
		if _, err := readFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		if n == 0 {
			return
		}

		buf := l.pool.Acquire()
		msgBuf := buf.Bytes()
		if int(n) > len(msgBuf) {
			msgBuf = make([]byte, n)
		}
		if _, err := readFull(conn, msgBuf[:n]); err != nil {
			l.pool.Release(buf)
			return
		}
		msg := append([]byte(nil), msgBuf[:n]...)
		l.pool.Release(buf)

		resp, ok := l.handle(msg, remote)
		if !ok {
			continue
		}

		out := make([]byte, 65536)
		rn, err := resp.Serialize(out)
		if err != nil {
			log.Error("serialize failed", "id", l.id, "err", err)
			return
		}
		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], uint16(rn))
		if _, err := conn.Write(prefix[:]); err != nil {
			return
		}
		if _, err := conn.Write(out[:rn]); err != nil {
			return
		}
	}
}

func (l *TCPListener) handle(msg []byte, remote *net.TCPAddr) (*wire.Packet, bool) {
	query, err := wire.Parse(msg)
	if err != nil {
		if l.stats != nil {
			l.stats.IncMalformed("tcp")
		}
		log.Debug("malformed query dropped", "id", l.id, "err", err)
		return nil, false
	}
	var ip net.IP
	if remote != nil {
		ip = remote.IP
	}
	ci := resolver.ClientInfo{SourceIP: ip, Listener: l.id, Protocol: "tcp"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := l.resolver.Resolve(ctx, query, ci)
	if err != nil {
		log.Error("resolve failed", "id", l.id, "err", err)
		return nil, false
	}
	return resp, true
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

// Stop closes the listening socket and waits (up to the given grace
// period) for in-flight connections to finish.
func (l *TCPListener) Stop(grace time.Duration) {
	close(l.closed)
	l.cancel()
	if l.ln != nil {
		l.ln.Close()
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn("tcp listener shutdown grace period exceeded", "id", l.id)
	}
}
