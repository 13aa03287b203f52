package upstream

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heimdall-dns/heimdall/wire"
)

func echoUDPServer(t *testing.T) (string, *int64) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var reqs int64
	go func() {
		buf := make([]byte, 4096)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			atomic.AddInt64(&reqs, 1)
			q, err := wire.Parse(buf[:n])
			if err != nil {
				continue
			}
			resp := q.Copy()
			resp.Header.Response = true
			out := make([]byte, 4096)
			rn, err := resp.Serialize(out)
			if err != nil {
				continue
			}
			conn.WriteToUDP(out[:rn], addr)
		}
	}()
	return conn.LocalAddr().String(), &reqs
}

func TestUDPPipeServesConcurrentQueriesOverOneSocket(t *testing.T) {
	addr, reqs := echoUDPServer(t)
	c := NewClient(2 * time.Second)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			q := &wire.Packet{
				Header:    wire.Header{ID: uint16(i), QDCount: 1},
				Questions: []wire.Question{{Name: "pipe.example.", Type: wire.TypeA, Class: wire.ClassINET}},
			}
			_, err := c.Query(context.Background(), addr, q)
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	require.EqualValues(t, n, atomic.LoadInt64(reqs))

	c.mu.Lock()
	pipe, ok := c.udp[addr]
	c.mu.Unlock()
	require.True(t, ok)
	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	require.NotNil(t, pipe.conn)
}

func echoTCPServer(t *testing.T) (string, *int64) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var accepts int64
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt64(&accepts, 1)
			go func(c net.Conn) {
				defer c.Close()
				for {
					var lenBuf [2]byte
					if _, err := readFull(c, lenBuf[:]); err != nil {
						return
					}
					n := binary.BigEndian.Uint16(lenBuf[:])
					buf := make([]byte, n)
					if _, err := readFull(c, buf); err != nil {
						return
					}
					q, err := wire.Parse(buf)
					if err != nil {
						return
					}
					resp := q.Copy()
					resp.Header.Response = true
					out := make([]byte, 65536)
					rn, err := resp.Serialize(out)
					if err != nil {
						return
					}
					var prefix [2]byte
					binary.BigEndian.PutUint16(prefix[:], uint16(rn))
					c.Write(prefix[:])
					c.Write(out[:rn])
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), &accepts
}

func TestTCPPoolReusesConnectionAcrossSequentialQueries(t *testing.T) {
	addr, accepts := echoTCPServer(t)
	c := NewClient(2 * time.Second)

	for i := 0; i < 5; i++ {
		q := &wire.Packet{
			Header:    wire.Header{ID: uint16(i), QDCount: 1},
			Questions: []wire.Question{{Name: "pool.example.", Type: wire.TypeA, Class: wire.ClassINET}},
		}
		_, err := c.queryTCP(context.Background(), addr, q)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, atomic.LoadInt64(accepts))
}

func TestTCPPoolCapsIdleConnections(t *testing.T) {
	pool := newTCPPool("127.0.0.1:0")
	var dialed []net.Conn
	dial := func(string) (net.Conn, error) {
		c1, c2 := net.Pipe()
		go func() { c2.Close() }()
		dialed = append(dialed, c2)
		return c1, nil
	}
	var conns []net.Conn
	for i := 0; i < tcpPoolMaxIdle+2; i++ {
		c, err := pool.get(dial)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		pool.put(c)
	}
	pool.mu.Lock()
	n := len(pool.idle)
	pool.mu.Unlock()
	require.Equal(t, tcpPoolMaxIdle, n)
}
