package wire

import (
	"net"
)

// RawRdata preserves any record type this package does not model
// structurally, so unknown types round-trip byte-identical.
type RawRdata struct {
	Type Type
	Data []byte
}

func (r *RawRdata) rtype() Type { return r.Type }
func (r *RawRdata) len() int    { return len(r.Data) }
func (r *RawRdata) pack(b *builder, _ int) error {
	return b.write(r.Data)
}

// ARdata is an IPv4 address record.
type ARdata struct{ IP net.IP }

func (r *ARdata) rtype() Type { return TypeA }
func (r *ARdata) len() int    { return 4 }
func (r *ARdata) pack(b *builder, _ int) error {
	ip4 := r.IP.To4()
	if ip4 == nil {
		ip4 = make(net.IP, 4)
	}
	return b.write(ip4)
}

// AAAARdata is an IPv6 address record.
type AAAARdata struct{ IP net.IP }

func (r *AAAARdata) rtype() Type { return TypeAAAA }
func (r *AAAARdata) len() int    { return 16 }
func (r *AAAARdata) pack(b *builder, _ int) error {
	ip16 := r.IP.To16()
	if ip16 == nil {
		ip16 = make(net.IP, 16)
	}
	return b.write(ip16)
}

// NSRdata names an authoritative nameserver.
type NSRdata struct{ NS string }

func (r *NSRdata) rtype() Type         { return TypeNS }
func (r *NSRdata) len() int            { return nameLen(r.NS) }
func (r *NSRdata) pack(b *builder, _ int) error { return packName(b, r.NS) }

// CNAMERdata is a canonical-name alias.
type CNAMERdata struct{ Target string }

func (r *CNAMERdata) rtype() Type         { return TypeCNAME }
func (r *CNAMERdata) len() int            { return nameLen(r.Target) }
func (r *CNAMERdata) pack(b *builder, _ int) error { return packName(b, r.Target) }

// PTRRdata is a reverse-lookup pointer.
type PTRRdata struct{ Ptr string }

func (r *PTRRdata) rtype() Type         { return TypePTR }
func (r *PTRRdata) len() int            { return nameLen(r.Ptr) }
func (r *PTRRdata) pack(b *builder, _ int) error { return packName(b, r.Ptr) }

// DNAMERdata substitutes an entire subtree of the namespace.
type DNAMERdata struct{ Target string }

func (r *DNAMERdata) rtype() Type         { return TypeDNAME }
func (r *DNAMERdata) len() int            { return nameLen(r.Target) }
func (r *DNAMERdata) pack(b *builder, _ int) error { return packName(b, r.Target) }

// MXRdata is a mail-exchange record.
type MXRdata struct {
	Preference uint16
	MX         string
}

func (r *MXRdata) rtype() Type { return TypeMX }
func (r *MXRdata) len() int    { return 2 + nameLen(r.MX) }
func (r *MXRdata) pack(b *builder, _ int) error {
	if err := b.writeUint16(r.Preference); err != nil {
		return err
	}
	return packName(b, r.MX)
}

// TXTRdata is one or more character-strings.
type TXTRdata struct{ Txt []string }

func (r *TXTRdata) rtype() Type { return TypeTXT }
func (r *TXTRdata) len() int {
	n := 0
	for _, s := range r.Txt {
		n += 1 + len(s)
	}
	return n
}
func (r *TXTRdata) pack(b *builder, _ int) error {
	for _, s := range r.Txt {
		if len(s) > 255 {
			s = s[:255]
		}
		if err := b.writeByte(byte(len(s))); err != nil {
			return err
		}
		if err := b.write([]byte(s)); err != nil {
			return err
		}
	}
	return nil
}

// SOARdata is the start-of-authority record; its Minimum field is
// reinterpreted as the negative-cache TTL cap per RFC 2308.
type SOARdata struct {
	Ns, Mbox                              string
	Serial, Refresh, Retry, Expire, Minimum uint32
}

func (r *SOARdata) rtype() Type { return TypeSOA }
func (r *SOARdata) len() int    { return nameLen(r.Ns) + nameLen(r.Mbox) + 20 }
func (r *SOARdata) pack(b *builder, _ int) error {
	if err := packName(b, r.Ns); err != nil {
		return err
	}
	if err := packName(b, r.Mbox); err != nil {
		return err
	}
	for _, v := range []uint32{r.Serial, r.Refresh, r.Retry, r.Expire, r.Minimum} {
		if err := b.writeUint32(v); err != nil {
			return err
		}
	}
	return nil
}

// SRVRdata locates a service (RFC 2782).
type SRVRdata struct {
	Priority, Weight, Port uint16
	Target                 string
}

func (r *SRVRdata) rtype() Type { return TypeSRV }
func (r *SRVRdata) len() int    { return 6 + nameLen(r.Target) }
func (r *SRVRdata) pack(b *builder, _ int) error {
	for _, v := range []uint16{r.Priority, r.Weight, r.Port} {
		if err := b.writeUint16(v); err != nil {
			return err
		}
	}
	return packName(b, r.Target)
}

// CAARdata constrains certificate issuance (RFC 6844).
type CAARdata struct {
	Flag  uint8
	Tag   string
	Value string
}

func (r *CAARdata) rtype() Type { return TypeCAA }
func (r *CAARdata) len() int    { return 1 + 1 + len(r.Tag) + len(r.Value) }
func (r *CAARdata) pack(b *builder, _ int) error {
	if err := b.writeByte(r.Flag); err != nil {
		return err
	}
	if err := b.writeByte(byte(len(r.Tag))); err != nil {
		return err
	}
	if err := b.write([]byte(r.Tag)); err != nil {
		return err
	}
	return b.write([]byte(r.Value))
}

// DNSKEYRdata publishes a DNSSEC signing or key-signing key.
type DNSKEYRdata struct {
	Flags     uint16
	Protocol  uint8
	Algorithm uint8
	PublicKey []byte
}

func (r *DNSKEYRdata) rtype() Type { return TypeDNSKEY }
func (r *DNSKEYRdata) len() int    { return 4 + len(r.PublicKey) }
func (r *DNSKEYRdata) pack(b *builder, _ int) error {
	if err := b.writeUint16(r.Flags); err != nil {
		return err
	}
	if err := b.writeByte(r.Protocol); err != nil {
		return err
	}
	if err := b.writeByte(r.Algorithm); err != nil {
		return err
	}
	return b.write(r.PublicKey)
}

// DSRdata delegates signing authority to a child zone.
type DSRdata struct {
	KeyTag     uint16
	Algorithm  uint8
	DigestType uint8
	Digest     []byte
}

func (r *DSRdata) rtype() Type { return TypeDS }
func (r *DSRdata) len() int    { return 4 + len(r.Digest) }
func (r *DSRdata) pack(b *builder, _ int) error {
	if err := b.writeUint16(r.KeyTag); err != nil {
		return err
	}
	if err := b.writeByte(r.Algorithm); err != nil {
		return err
	}
	if err := b.writeByte(r.DigestType); err != nil {
		return err
	}
	return b.write(r.Digest)
}

// RRSIGRdata carries a DNSSEC signature over an RRset.
type RRSIGRdata struct {
	TypeCovered            Type
	Algorithm              uint8
	Labels                 uint8
	OriginalTTL            uint32
	Expiration, Inception  uint32
	KeyTag                 uint16
	SignerName             string
	Signature              []byte
}

func (r *RRSIGRdata) rtype() Type { return TypeRRSIG }
func (r *RRSIGRdata) len() int    { return 18 + nameLen(r.SignerName) + len(r.Signature) }
func (r *RRSIGRdata) pack(b *builder, _ int) error {
	if err := b.writeUint16(uint16(r.TypeCovered)); err != nil {
		return err
	}
	if err := b.writeByte(r.Algorithm); err != nil {
		return err
	}
	if err := b.writeByte(r.Labels); err != nil {
		return err
	}
	for _, v := range []uint32{r.OriginalTTL, r.Expiration, r.Inception} {
		if err := b.writeUint32(v); err != nil {
			return err
		}
	}
	if err := b.writeUint16(r.KeyTag); err != nil {
		return err
	}
	// RRSIG's signer name is never compressed, even in compressed messages.
	if err := packName(b, r.SignerName); err != nil {
		return err
	}
	return b.write(r.Signature)
}

// NSECRdata denies existence of names/types between NextDomain and the
// owner name. The type bitmap is kept opaque: Heimdall forwards/caches it
// verbatim rather than reasoning about covered types itself.
type NSECRdata struct {
	NextDomain string
	TypeBitmap []byte
}

func (r *NSECRdata) rtype() Type { return TypeNSEC }
func (r *NSECRdata) len() int    { return nameLen(r.NextDomain) + len(r.TypeBitmap) }
func (r *NSECRdata) pack(b *builder, _ int) error {
	if err := packName(b, r.NextDomain); err != nil {
		return err
	}
	return b.write(r.TypeBitmap)
}

// NSEC3Rdata is the hashed-name variant of NSEC (RFC 5155).
type NSEC3Rdata struct {
	HashAlgorithm uint8
	Flags         uint8
	Iterations    uint16
	Salt          []byte
	NextHashed    []byte
	TypeBitmap    []byte
}

func (r *NSEC3Rdata) rtype() Type { return TypeNSEC3 }
func (r *NSEC3Rdata) len() int {
	return 4 + 1 + len(r.Salt) + 1 + len(r.NextHashed) + len(r.TypeBitmap)
}
func (r *NSEC3Rdata) pack(b *builder, _ int) error {
	if err := b.writeByte(r.HashAlgorithm); err != nil {
		return err
	}
	if err := b.writeByte(r.Flags); err != nil {
		return err
	}
	if err := b.writeUint16(r.Iterations); err != nil {
		return err
	}
	if err := b.writeByte(byte(len(r.Salt))); err != nil {
		return err
	}
	if err := b.write(r.Salt); err != nil {
		return err
	}
	if err := b.writeByte(byte(len(r.NextHashed))); err != nil {
		return err
	}
	if err := b.write(r.NextHashed); err != nil {
		return err
	}
	return b.write(r.TypeBitmap)
}

// NSEC3PARAMRdata advertises the NSEC3 hashing parameters for a zone.
type NSEC3PARAMRdata struct {
	HashAlgorithm uint8
	Flags         uint8
	Iterations    uint16
	Salt          []byte
}

func (r *NSEC3PARAMRdata) rtype() Type { return TypeNSEC3PARAM }
func (r *NSEC3PARAMRdata) len() int    { return 5 + len(r.Salt) }
func (r *NSEC3PARAMRdata) pack(b *builder, _ int) error {
	if err := b.writeByte(r.HashAlgorithm); err != nil {
		return err
	}
	if err := b.writeByte(r.Flags); err != nil {
		return err
	}
	if err := b.writeUint16(r.Iterations); err != nil {
		return err
	}
	if err := b.writeByte(byte(len(r.Salt))); err != nil {
		return err
	}
	return b.write(r.Salt)
}

// TLSARdata pins a TLS certificate to a DNS name (RFC 6698).
type TLSARdata struct {
	Usage, Selector, MatchingType uint8
	Cert                          []byte
}

func (r *TLSARdata) rtype() Type { return TypeTLSA }
func (r *TLSARdata) len() int    { return 3 + len(r.Cert) }
func (r *TLSARdata) pack(b *builder, _ int) error {
	for _, v := range []uint8{r.Usage, r.Selector, r.MatchingType} {
		if err := b.writeByte(v); err != nil {
			return err
		}
	}
	return b.write(r.Cert)
}

// SVCBRdata is the generic service-binding record; HTTPSRdata is its
// identically-shaped HTTPS-specific sibling (RFC 9460).
type SVCBRdata struct {
	Priority   uint16
	Target     string
	ParamsWire []byte // opaque SvcParams, preserved verbatim
}

func (r *SVCBRdata) rtype() Type { return TypeSVCB }
func (r *SVCBRdata) len() int    { return 2 + nameLen(r.Target) + len(r.ParamsWire) }
func (r *SVCBRdata) pack(b *builder, _ int) error {
	if err := b.writeUint16(r.Priority); err != nil {
		return err
	}
	if err := packName(b, r.Target); err != nil {
		return err
	}
	return b.write(r.ParamsWire)
}

// HTTPSRdata is SVCBRdata under the HTTPS type code.
type HTTPSRdata struct{ SVCBRdata }

func (r *HTTPSRdata) rtype() Type { return TypeHTTPS }

// LOCRdata encodes geographic location (RFC 1876).
type LOCRdata struct {
	Version                          uint8
	Size, HorizPre, VertPre          uint8
	Latitude, Longitude, Altitude    uint32
}

func (r *LOCRdata) rtype() Type { return TypeLOC }
func (r *LOCRdata) len() int    { return 16 }
func (r *LOCRdata) pack(b *builder, _ int) error {
	if err := b.writeByte(r.Version); err != nil {
		return err
	}
	for _, v := range []uint8{r.Size, r.HorizPre, r.VertPre} {
		if err := b.writeByte(v); err != nil {
			return err
		}
	}
	for _, v := range []uint32{r.Latitude, r.Longitude, r.Altitude} {
		if err := b.writeUint32(v); err != nil {
			return err
		}
	}
	return nil
}

// NAPTRRdata is a naming-authority pointer (RFC 3403).
type NAPTRRdata struct {
	Order, Preference        uint16
	Flags, Services, Regexp  string
	Replacement              string
}

func (r *NAPTRRdata) rtype() Type { return TypeNAPTR }
func (r *NAPTRRdata) len() int {
	return 4 + 1 + len(r.Flags) + 1 + len(r.Services) + 1 + len(r.Regexp) + nameLen(r.Replacement)
}
func (r *NAPTRRdata) pack(b *builder, _ int) error {
	if err := b.writeUint16(r.Order); err != nil {
		return err
	}
	if err := b.writeUint16(r.Preference); err != nil {
		return err
	}
	for _, s := range []string{r.Flags, r.Services, r.Regexp} {
		if err := b.writeByte(byte(len(s))); err != nil {
			return err
		}
		if err := b.write([]byte(s)); err != nil {
			return err
		}
	}
	return packName(b, r.Replacement)
}

// EDNS0Option is a single option within an OPT record's rdata, e.g. the
// client-subnet option (RFC 7871) or the extended-error option (RFC 8914).
// Unrecognized option codes are preserved as their raw bytes.
type EDNS0Option struct {
	Code uint16
	Data []byte
}

// OPTRdata is the EDNS0 pseudo-record (RFC 6891). It does not carry a Name
// or TTL in the usual sense: the RR's Class field holds the requestor UDP
// payload size and the TTL field is repurposed to carry extended-rcode,
// version, and the DO bit.
type OPTRdata struct {
	UDPSize  uint16
	ExtRcode uint8
	Version  uint8
	DO       bool
	Options  []EDNS0Option
}

func (r *OPTRdata) rtype() Type { return TypeOPT }
func (r *OPTRdata) len() int {
	n := 0
	for _, o := range r.Options {
		n += 4 + len(o.Data)
	}
	return n
}
func (r *OPTRdata) pack(b *builder, _ int) error {
	for _, o := range r.Options {
		if err := b.writeUint16(o.Code); err != nil {
			return err
		}
		if err := b.writeUint16(uint16(len(o.Data))); err != nil {
			return err
		}
		if err := b.write(o.Data); err != nil {
			return err
		}
	}
	return nil
}

// packedTTL reconstructs the 32-bit TTL field encoding for an OPT record:
// extended-rcode (8 bits) | version (8 bits) | DO flag | zero bits.
func (r *OPTRdata) packedTTL() uint32 {
	v := uint32(r.ExtRcode)<<24 | uint32(r.Version)<<16
	if r.DO {
		v |= 1 << 15
	}
	return v
}

func unpackOPTTTL(ttl uint32) (extRcode, version uint8, do bool) {
	extRcode = uint8(ttl >> 24)
	version = uint8(ttl >> 16)
	do = ttl&(1<<15) != 0
	return
}
