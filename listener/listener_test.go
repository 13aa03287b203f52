package listener

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heimdall-dns/heimdall/resolver"
	"github.com/heimdall-dns/heimdall/wire"
)

// echoResolver answers every query with a single A record, for exercising
// the listener's socket plumbing independent of resolver.Resolver.
type echoResolver struct{}

func (echoResolver) Resolve(ctx context.Context, query *wire.Packet, ci resolver.ClientInfo) (*wire.Packet, error) {
	q := query.Questions[0]
	resp := query.Copy()
	resp.Header.Response = true
	resp.Header.RecursionAvailable = true
	resp.Header.ANCount = 1
	resp.Answer = []wire.RR{{
		Header: wire.RRHeader{Name: q.Name, Type: wire.TypeA, Class: wire.ClassINET, TTL: 60},
		Rdata:  &wire.ARdata{IP: net.ParseIP("198.51.100.1").To4()},
	}}
	return resp, nil
}

func testQuery() *wire.Packet {
	return &wire.Packet{
		Header:    wire.Header{ID: 0xabcd, RecursionDesired: true, QDCount: 1},
		Questions: []wire.Question{{Name: "listener.example.", Type: wire.TypeA, Class: wire.ClassINET}},
	}
}

func TestUDPListenerAnswersQuery(t *testing.T) {
	l := NewUDPListener("udp:test", "127.0.0.1:0", echoResolver{}, nil, 10)
	go func() {
		_ = l.Start()
	}()
	// Start binds synchronously from the caller's perspective before the
	// blocking loop begins, but the goroutine needs a moment to reach
	// ReadFromUDP; poll for the listener to come up.
	var addr string
	for i := 0; i < 100 && l.conn == nil; i++ {
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, l.conn)
	addr = l.conn.LocalAddr().String()
	defer l.Stop(time.Second)

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	q := testQuery()
	buf := make([]byte, 512)
	n, err := q.Serialize(buf)
	require.NoError(t, err)
	_, err = conn.Write(buf[:n])
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	rbuf := make([]byte, 512)
	rn, err := conn.Read(rbuf)
	require.NoError(t, err)

	resp, err := wire.Parse(rbuf[:rn])
	require.NoError(t, err)
	require.Equal(t, uint16(0xabcd), resp.Header.ID)
	require.Len(t, resp.Answer, 1)
}

func TestTCPListenerHandlesPipelinedQueries(t *testing.T) {
	l := NewTCPListener("tcp:test", "127.0.0.1:0", echoResolver{}, nil, 10)
	go func() {
		_ = l.Start()
	}()
	var addr string
	for i := 0; i < 100 && l.ln == nil; i++ {
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, l.ln)
	addr = l.ln.Addr().String()
	defer l.Stop(time.Second)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		q := testQuery()
		buf := make([]byte, 512)
		n, err := q.Serialize(buf)
		require.NoError(t, err)

		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], uint16(n))
		_, err = conn.Write(prefix[:])
		require.NoError(t, err)
		_, err = conn.Write(buf[:n])
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var rlenBuf [2]byte
		_, err = readFull(conn, rlenBuf[:])
		require.NoError(t, err)
		rn := binary.BigEndian.Uint16(rlenBuf[:])
		rbuf := make([]byte, rn)
		_, err = readFull(conn, rbuf)
		require.NoError(t, err)

		resp, err := wire.Parse(rbuf)
		require.NoError(t, err)
		require.Equal(t, uint16(0xabcd), resp.Header.ID)
	}
}

func TestUDPListenerDropsMalformedPacket(t *testing.T) {
	l := NewUDPListener("udp:malformed", "127.0.0.1:0", echoResolver{}, nil, 10)
	go func() {
		_ = l.Start()
	}()
	for i := 0; i < 100 && l.conn == nil; i++ {
		time.Sleep(time.Millisecond)
	}
	defer l.Stop(time.Second)

	conn, err := net.Dial("udp", l.conn.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{0x01, 0x02}) // too short to be a DNS header
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	rbuf := make([]byte, 512)
	_, err = conn.Read(rbuf)
	require.Error(t, err) // no response expected for a malformed datagram
}
