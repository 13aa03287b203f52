package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSimpleQuery(t *testing.T, name string, typ Type) []byte {
	t.Helper()
	p := &Packet{
		Header:    Header{ID: 0x1234, RecursionDesired: true, QDCount: 1},
		Questions: []Question{{Name: name, Type: typ, Class: ClassINET}},
	}
	buf := make([]byte, 512)
	n, err := p.Serialize(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestParseSerializeRoundTrip(t *testing.T) {
	msg := buildSimpleQuery(t, "www.example.com.", TypeA)

	p, err := Parse(msg)
	require.NoError(t, err)
	require.EqualValues(t, 0x1234, p.Header.ID)
	require.True(t, p.Header.RecursionDesired)
	require.Len(t, p.Questions, 1)
	require.Equal(t, "www.example.com.", p.Questions[0].Name)
	require.Equal(t, TypeA, p.Questions[0].Type)

	buf2 := make([]byte, 512)
	n2, err := p.Serialize(buf2)
	require.NoError(t, err)

	p2, err := Parse(buf2[:n2])
	require.NoError(t, err)
	require.Equal(t, p.Questions, p2.Questions)
	require.Equal(t, p.Header.ID, p2.Header.ID)
}

func TestParseAnswerWithCompressionPointer(t *testing.T) {
	// Build a message by hand with a compressed name pointer in the answer
	// section, to exercise unpackName's pointer-following path.
	msg := []byte{
		0, 1, // ID
		0x81, 0x80, // response, RD, RA
		0, 1, // QDCOUNT
		0, 1, // ANCOUNT
		0, 0, // NSCOUNT
		0, 0, // ARCOUNT
		3, 'w', 'w', 'w', 7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0,
		0, 1, // TYPE A
		0, 1, // CLASS IN
		0xC0, 0x0C, // pointer back to offset 12 (the name start)
		0, 1, // TYPE A
		0, 1, // CLASS IN
		0, 0, 0, 60, // TTL
		0, 4, // RDLENGTH
		192, 0, 2, 1, // RDATA
	}
	p, err := Parse(msg)
	require.NoError(t, err)
	require.Len(t, p.Answer, 1)
	require.Equal(t, "www.example.com.", p.Answer[0].Header.Name)
	a, ok := p.Answer[0].Rdata.(*ARdata)
	require.True(t, ok)
	require.True(t, net.IP{192, 0, 2, 1}.Equal(a.IP))
}

func TestCompressionLoopRejected(t *testing.T) {
	msg := []byte{
		0, 1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0,
		0xC0, 0x0C, // a question name pointing at itself (offset 12, its own start)
		0, 1, 0, 1,
	}
	_, err := Parse(msg)
	require.ErrorIs(t, err, ErrCompressionLoop)
}

func TestCompressionForwardPointerRejected(t *testing.T) {
	// Pointer at offset 12 points forward to offset 20, which is illegal.
	msg := make([]byte, 30)
	msg[11] = 0
	msg[5] = 1 // QDCOUNT = 1
	msg[12] = 0xC0
	msg[13] = 20
	_, err := Parse(msg)
	require.ErrorIs(t, err, ErrCompressionForward)
}

func TestLabelTooLongRejected(t *testing.T) {
	msg := make([]byte, 0, 90)
	msg = append(msg, 0, 1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0)
	msg = append(msg, 64) // label length 64 > 63
	msg = append(msg, make([]byte, 64)...)
	msg = append(msg, 0, 0, 1, 0, 1)
	_, err := Parse(msg)
	require.ErrorIs(t, err, ErrLabelTooLong)
}

func TestTruncationSetsTCAndShrinksCounts(t *testing.T) {
	var answers []RR
	for i := 0; i < 200; i++ {
		answers = append(answers, RR{
			Header: RRHeader{Name: "example.com.", Type: TypeTXT, Class: ClassINET, TTL: 300},
			Rdata:  &TXTRdata{Txt: []string{"the quick brown fox jumps over the lazy dog, repeated for bulk"}},
		})
	}
	p := &Packet{
		Header:    Header{ID: 7, Response: true, QDCount: 1, ANCount: uint16(len(answers))},
		Questions: []Question{{Name: "example.com.", Type: TypeTXT, Class: ClassINET}},
		Answer:    answers,
	}
	buf := make([]byte, 512)
	n, err := p.Serialize(buf)
	require.NoError(t, err)

	out, err := Parse(buf[:n])
	require.NoError(t, err)
	require.True(t, out.Header.Truncated)
	require.Less(t, len(out.Answer), len(answers))
	require.EqualValues(t, len(out.Answer), out.Header.ANCount)
}

func TestUnknownTypeRoundTripsRaw(t *testing.T) {
	rr := RR{
		Header: RRHeader{Name: "example.com.", Type: Type(65399), Class: ClassINET, TTL: 60},
		Rdata:  &RawRdata{Type: Type(65399), Data: []byte{1, 2, 3, 4, 5}},
	}
	p := &Packet{
		Header:    Header{ID: 9, Response: true, QDCount: 1, ANCount: 1},
		Questions: []Question{{Name: "example.com.", Type: TypeA, Class: ClassINET}},
		Answer:    []RR{rr},
	}
	buf := make([]byte, 512)
	n, err := p.Serialize(buf)
	require.NoError(t, err)

	out, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Len(t, out.Answer, 1)
	raw, ok := out.Answer[0].Rdata.(*RawRdata)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, raw.Data)
}

func TestOPTRoundTrip(t *testing.T) {
	opt := &OPTRdata{UDPSize: 4096, DO: true, Options: []EDNS0Option{{Code: 8, Data: []byte{0, 1, 32, 0}}}}
	rr := RR{
		Header: RRHeader{Name: ".", Type: TypeOPT, Class: Class(opt.UDPSize)},
		Rdata:  opt,
	}
	p := &Packet{
		Header:    Header{ID: 1, RecursionDesired: true, QDCount: 1, ARCount: 1},
		Questions: []Question{{Name: "example.com.", Type: TypeA, Class: ClassINET}},
		Extra:     []RR{rr},
	}
	buf := make([]byte, 512)
	n, err := p.Serialize(buf)
	require.NoError(t, err)

	out, err := Parse(buf[:n])
	require.NoError(t, err)
	gotOPT := out.OPT()
	require.NotNil(t, gotOPT)
	require.True(t, gotOPT.DO)
	require.EqualValues(t, 4096, gotOPT.UDPSize)
	require.Len(t, gotOPT.Options, 1)
	require.EqualValues(t, 8, gotOPT.Options[0].Code)
}

func TestPacketCopyIsIndependent(t *testing.T) {
	p := &Packet{
		Header:    Header{ID: 1},
		Questions: []Question{{Name: "example.com.", Type: TypeA, Class: ClassINET}},
		Answer: []RR{{
			Header: RRHeader{Name: "example.com.", Type: TypeA, Class: ClassINET, TTL: 30},
			Rdata:  &ARdata{IP: net.IPv4(1, 2, 3, 4)},
		}},
	}
	cp := p.Copy()
	cp.Answer[0].Header.TTL = 999
	require.EqualValues(t, 30, p.Answer[0].Header.TTL)
}
