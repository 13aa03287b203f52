// Package wire implements the DNS on-the-wire message format: RFC 1035 §4
// header and question/resource-record sections, plus the EDNS0 (RFC 6891)
// OPT pseudo-record. It is a from-scratch codec in the classic
// hand-rolled pack/unpack style, rather than a wrapper around an
// existing DNS library.
package wire

import "fmt"

// Type is a DNS resource record type (RFC 1035 §3.2.2 and successors).
type Type uint16

const (
	TypeA          Type = 1
	TypeNS         Type = 2
	TypeCNAME      Type = 5
	TypeSOA        Type = 6
	TypePTR        Type = 12
	TypeMX         Type = 15
	TypeTXT        Type = 16
	TypeAAAA       Type = 28
	TypeLOC        Type = 29
	TypeSRV        Type = 33
	TypeNAPTR      Type = 35
	TypeDNAME      Type = 39
	TypeOPT        Type = 41
	TypeDS         Type = 43
	TypeSSHFP      Type = 44
	TypeRRSIG      Type = 46
	TypeNSEC       Type = 47
	TypeDNSKEY     Type = 48
	TypeNSEC3      Type = 50
	TypeNSEC3PARAM Type = 51
	TypeTLSA       Type = 52
	TypeSVCB       Type = 64
	TypeHTTPS      Type = 65
	TypeCAA        Type = 257
	TypeAXFR       Type = 252
	TypeIXFR       Type = 251
	TypeANY        Type = 255
)

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

var typeNames = map[Type]string{
	TypeA: "A", TypeNS: "NS", TypeCNAME: "CNAME", TypeSOA: "SOA",
	TypePTR: "PTR", TypeMX: "MX", TypeTXT: "TXT", TypeAAAA: "AAAA",
	TypeLOC: "LOC", TypeSRV: "SRV", TypeNAPTR: "NAPTR", TypeDNAME: "DNAME",
	TypeOPT: "OPT", TypeDS: "DS", TypeSSHFP: "SSHFP", TypeRRSIG: "RRSIG",
	TypeNSEC: "NSEC", TypeDNSKEY: "DNSKEY", TypeNSEC3: "NSEC3",
	TypeNSEC3PARAM: "NSEC3PARAM", TypeTLSA: "TLSA", TypeSVCB: "SVCB",
	TypeHTTPS: "HTTPS", TypeCAA: "CAA", TypeAXFR: "AXFR", TypeIXFR: "IXFR",
	TypeANY: "ANY",
}

// Class is a DNS record class, almost always ClassINET in practice.
type Class uint16

const (
	ClassINET  Class = 1
	ClassCHAOS Class = 3
	ClassNONE  Class = 254
	ClassANY   Class = 255
)

func (c Class) String() string {
	switch c {
	case ClassINET:
		return "IN"
	case ClassCHAOS:
		return "CH"
	case ClassNONE:
		return "NONE"
	case ClassANY:
		return "ANY"
	default:
		return fmt.Sprintf("CLASS%d", uint16(c))
	}
}

// Opcode is the 4-bit DNS opcode field.
type Opcode int

const (
	OpcodeQuery  Opcode = 0
	OpcodeIQuery Opcode = 1
	OpcodeStatus Opcode = 2
	OpcodeNotify Opcode = 4
	OpcodeUpdate Opcode = 5
)

// Rcode is the response code, 4 bits in the base header, extendable to 12
// bits via the EDNS0 OPT record's extended-rcode byte.
type Rcode int

const (
	RcodeSuccess        Rcode = 0
	RcodeFormatError    Rcode = 1
	RcodeServerFailure  Rcode = 2
	RcodeNameError      Rcode = 3 // NXDOMAIN
	RcodeNotImplemented Rcode = 4
	RcodeRefused        Rcode = 5
)

func (r Rcode) String() string {
	switch r {
	case RcodeSuccess:
		return "NOERROR"
	case RcodeFormatError:
		return "FORMERR"
	case RcodeServerFailure:
		return "SERVFAIL"
	case RcodeNameError:
		return "NXDOMAIN"
	case RcodeNotImplemented:
		return "NOTIMPL"
	case RcodeRefused:
		return "REFUSED"
	default:
		return fmt.Sprintf("RCODE%d", int(r))
	}
}

// Header mirrors the fixed 12-byte DNS message header.
type Header struct {
	ID                 uint16
	Response           bool
	Opcode             Opcode
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	AuthenticData      bool
	CheckingDisabled   bool
	Rcode              Rcode

	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is a single entry in the question section.
type Question struct {
	Name  string // lowercase, fully qualified, dot-terminated
	Type  Type
	Class Class
}

// RRHeader is the common prefix shared by every resource record.
type RRHeader struct {
	Name  string
	Type  Type
	Class Class
	TTL   uint32
}

// RR is a parsed resource record: the common header plus type-specific
// rdata. Unknown types are preserved as RawRdata so they round-trip
// byte-identical.
type RR struct {
	Header RRHeader
	Rdata  Rdata
}

// Rdata is implemented by every structured record-data type in this
// package plus RawRdata for anything unrecognized. It is a closed sum
// type by design: new variants are added to this package, not
// discovered via external plugins.
type Rdata interface {
	rtype() Type
	pack(b *builder, origin int) error
	// len returns the number of bytes this rdata occupies when packed
	// uncompressed. Serialize does not call it: it packs each record and
	// rolls back one that does not fit.
	len() int
}

// Packet is the fully parsed, owned representation of a DNS message: every
// section has been decoded into memory and no reference to the original
// byte slice is retained. Use Parse to obtain one.
type Packet struct {
	Header    Header
	Questions []Question
	Answer    []RR
	Ns        []RR
	Extra     []RR
}

// Copy returns a copy of p with its own header, question slice and RR
// slices (including each RR's header), so callers may mutate the id, TTLs
// or record order without affecting a value shared with other goroutines,
// e.g. a cached response served concurrently to multiple clients. Rdata
// values are shared with p, not copied.
func (p *Packet) Copy() *Packet {
	if p == nil {
		return nil
	}
	cp := &Packet{Header: p.Header}
	cp.Questions = append([]Question(nil), p.Questions...)
	cp.Answer = copyRRs(p.Answer)
	cp.Ns = copyRRs(p.Ns)
	cp.Extra = copyRRs(p.Extra)
	return cp
}

func copyRRs(rrs []RR) []RR {
	if rrs == nil {
		return nil
	}
	out := make([]RR, len(rrs))
	copy(out, rrs)
	return out
}

// OPT returns the EDNS0 pseudo-record in the additional section, if present.
func (p *Packet) OPT() *OPTRdata {
	for _, rr := range p.Extra {
		if rr.Header.Type == TypeOPT {
			if opt, ok := rr.Rdata.(*OPTRdata); ok {
				return opt
			}
		}
	}
	return nil
}

// Question0 returns the first question, or the zero value and false if the
// packet carries none.
func (p *Packet) Question0() (Question, bool) {
	if len(p.Questions) == 0 {
		return Question{}, false
	}
	return p.Questions[0], true
}
