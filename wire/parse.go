package wire

import (
	"encoding/binary"
	"net"
)

const headerLen = 12

// Parse decodes msg into a fully owned Packet: every name, question and
// record is copied out of msg, so the returned Packet outlives msg and is
// safe to retain (e.g. as a cache entry) after the caller's receive buffer
// is reused.
func Parse(msg []byte) (*Packet, error) {
	h, err := parseHeader(msg)
	if err != nil {
		return nil, err
	}
	off := headerLen
	questions := make([]Question, 0, h.QDCount)
	for i := uint16(0); i < h.QDCount; i++ {
		var q Question
		q, off, err = parseQuestion(msg, off)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	answer, off, err := parseRRSection(msg, off, h.ANCount)
	if err != nil {
		return nil, err
	}
	ns, off, err := parseRRSection(msg, off, h.NSCount)
	if err != nil {
		return nil, err
	}
	extra, _, err := parseRRSection(msg, off, h.ARCount)
	if err != nil {
		return nil, err
	}
	return &Packet{Header: h, Questions: questions, Answer: answer, Ns: ns, Extra: extra}, nil
}

func parseRRSection(msg []byte, off int, count uint16) ([]RR, int, error) {
	rrs := make([]RR, 0, count)
	for i := uint16(0); i < count; i++ {
		var rr RR
		var err error
		rr, off, err = parseRR(msg, off)
		if err != nil {
			return nil, 0, err
		}
		rrs = append(rrs, rr)
	}
	return rrs, off, nil
}

func parseHeader(msg []byte) (Header, error) {
	if len(msg) < headerLen {
		return Header{}, ErrHeaderTruncated
	}
	flags := binary.BigEndian.Uint16(msg[2:4])
	h := Header{
		ID:                 binary.BigEndian.Uint16(msg[0:2]),
		Response:           flags&0x8000 != 0,
		Opcode:             Opcode((flags >> 11) & 0xF),
		Authoritative:      flags&0x0400 != 0,
		Truncated:          flags&0x0200 != 0,
		RecursionDesired:   flags&0x0100 != 0,
		RecursionAvailable: flags&0x0080 != 0,
		AuthenticData:      flags&0x0020 != 0,
		CheckingDisabled:   flags&0x0010 != 0,
		Rcode:              Rcode(flags & 0xF),
		QDCount:            binary.BigEndian.Uint16(msg[4:6]),
		ANCount:            binary.BigEndian.Uint16(msg[6:8]),
		NSCount:            binary.BigEndian.Uint16(msg[8:10]),
		ARCount:            binary.BigEndian.Uint16(msg[10:12]),
	}
	return h, nil
}

func packHeader(b *builder, h Header) error {
	if err := b.writeUint16(h.ID); err != nil {
		return err
	}
	var flags uint16
	if h.Response {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0xF) << 11
	if h.Authoritative {
		flags |= 0x0400
	}
	if h.Truncated {
		flags |= 0x0200
	}
	if h.RecursionDesired {
		flags |= 0x0100
	}
	if h.RecursionAvailable {
		flags |= 0x0080
	}
	if h.AuthenticData {
		flags |= 0x0020
	}
	if h.CheckingDisabled {
		flags |= 0x0010
	}
	flags |= uint16(h.Rcode & 0xF)
	if err := b.writeUint16(flags); err != nil {
		return err
	}
	for _, v := range []uint16{h.QDCount, h.ANCount, h.NSCount, h.ARCount} {
		if err := b.writeUint16(v); err != nil {
			return err
		}
	}
	return nil
}

func parseQuestion(msg []byte, off int) (Question, int, error) {
	name, off, err := unpackName(msg, off)
	if err != nil {
		return Question{}, 0, err
	}
	if off+4 > len(msg) {
		return Question{}, 0, ErrHeaderTruncated
	}
	q := Question{
		Name:  name,
		Type:  Type(binary.BigEndian.Uint16(msg[off:])),
		Class: Class(binary.BigEndian.Uint16(msg[off+2:])),
	}
	return q, off + 4, nil
}

// parseRR decodes one resource record starting at off, returning the record
// and the offset immediately following it.
func parseRR(msg []byte, off int) (RR, int, error) {
	name, off, err := unpackName(msg, off)
	if err != nil {
		return RR{}, 0, err
	}
	if off+10 > len(msg) {
		return RR{}, 0, ErrHeaderTruncated
	}
	typ := Type(binary.BigEndian.Uint16(msg[off:]))
	class := Class(binary.BigEndian.Uint16(msg[off+2:]))
	ttl := binary.BigEndian.Uint32(msg[off+4:])
	rdlen := int(binary.BigEndian.Uint16(msg[off+8:]))
	off += 10
	if off+rdlen > len(msg) {
		return RR{}, 0, ErrRdataTruncated
	}
	rdata, err := unpackRdata(typ, msg, off, rdlen)
	if err != nil {
		return RR{}, 0, err
	}
	if opt, ok := rdata.(*OPTRdata); ok {
		opt.UDPSize = uint16(class)
		opt.ExtRcode, opt.Version, opt.DO = unpackOPTTTL(ttl)
	}
	rr := RR{
		Header: RRHeader{Name: name, Type: typ, Class: class, TTL: ttl},
		Rdata:  rdata,
	}
	return rr, off + rdlen, nil
}

// unpackRdata decodes the rdata of a single record. rdStart/rdLen delimit
// the rdata region within msg; name fields inside rdata may still carry
// compression pointers into msg, so unpackName is called against the full
// message rather than a sub-slice.
func unpackRdata(typ Type, msg []byte, rdStart, rdLen int) (Rdata, error) {
	rdEnd := rdStart + rdLen
	raw := func() Rdata {
		buf := make([]byte, rdLen)
		copy(buf, msg[rdStart:rdEnd])
		return &RawRdata{Type: typ, Data: buf}
	}

	switch typ {
	case TypeA:
		if rdLen != 4 {
			return raw(), nil
		}
		ip := make(net.IP, 4)
		copy(ip, msg[rdStart:rdEnd])
		return &ARdata{IP: ip}, nil
	case TypeAAAA:
		if rdLen != 16 {
			return raw(), nil
		}
		ip := make(net.IP, 16)
		copy(ip, msg[rdStart:rdEnd])
		return &AAAARdata{IP: ip}, nil
	case TypeNS:
		name, _, err := unpackName(msg, rdStart)
		if err != nil {
			return nil, err
		}
		return &NSRdata{NS: name}, nil
	case TypeCNAME:
		name, _, err := unpackName(msg, rdStart)
		if err != nil {
			return nil, err
		}
		return &CNAMERdata{Target: name}, nil
	case TypePTR:
		name, _, err := unpackName(msg, rdStart)
		if err != nil {
			return nil, err
		}
		return &PTRRdata{Ptr: name}, nil
	case TypeDNAME:
		name, _, err := unpackName(msg, rdStart)
		if err != nil {
			return nil, err
		}
		return &DNAMERdata{Target: name}, nil
	case TypeMX:
		if rdStart+2 > rdEnd {
			return nil, ErrRdataTruncated
		}
		pref := binary.BigEndian.Uint16(msg[rdStart:])
		name, _, err := unpackName(msg, rdStart+2)
		if err != nil {
			return nil, err
		}
		return &MXRdata{Preference: pref, MX: name}, nil
	case TypeTXT:
		var txts []string
		i := rdStart
		for i < rdEnd {
			n := int(msg[i])
			i++
			if i+n > rdEnd {
				return nil, ErrRdataTruncated
			}
			txts = append(txts, string(msg[i:i+n]))
			i += n
		}
		return &TXTRdata{Txt: txts}, nil
	case TypeSOA:
		ns, next, err := unpackName(msg, rdStart)
		if err != nil {
			return nil, err
		}
		mbox, next, err := unpackName(msg, next)
		if err != nil {
			return nil, err
		}
		if next+20 > len(msg) || next+20 > rdEnd {
			return nil, ErrRdataTruncated
		}
		return &SOARdata{
			Ns:      ns,
			Mbox:    mbox,
			Serial:  binary.BigEndian.Uint32(msg[next:]),
			Refresh: binary.BigEndian.Uint32(msg[next+4:]),
			Retry:   binary.BigEndian.Uint32(msg[next+8:]),
			Expire:  binary.BigEndian.Uint32(msg[next+12:]),
			Minimum: binary.BigEndian.Uint32(msg[next+16:]),
		}, nil
	case TypeSRV:
		if rdStart+6 > rdEnd {
			return nil, ErrRdataTruncated
		}
		pri := binary.BigEndian.Uint16(msg[rdStart:])
		wt := binary.BigEndian.Uint16(msg[rdStart+2:])
		port := binary.BigEndian.Uint16(msg[rdStart+4:])
		name, _, err := unpackName(msg, rdStart+6)
		if err != nil {
			return nil, err
		}
		return &SRVRdata{Priority: pri, Weight: wt, Port: port, Target: name}, nil
	case TypeCAA:
		if rdStart+2 > rdEnd {
			return nil, ErrRdataTruncated
		}
		flag := msg[rdStart]
		taglen := int(msg[rdStart+1])
		i := rdStart + 2
		if i+taglen > rdEnd {
			return nil, ErrRdataTruncated
		}
		tag := string(msg[i : i+taglen])
		value := string(msg[i+taglen : rdEnd])
		return &CAARdata{Flag: flag, Tag: tag, Value: value}, nil
	case TypeDNSKEY:
		if rdStart+4 > rdEnd {
			return nil, ErrRdataTruncated
		}
		key := make([]byte, rdEnd-(rdStart+4))
		copy(key, msg[rdStart+4:rdEnd])
		return &DNSKEYRdata{
			Flags:     binary.BigEndian.Uint16(msg[rdStart:]),
			Protocol:  msg[rdStart+2],
			Algorithm: msg[rdStart+3],
			PublicKey: key,
		}, nil
	case TypeDS:
		if rdStart+4 > rdEnd {
			return nil, ErrRdataTruncated
		}
		digest := make([]byte, rdEnd-(rdStart+4))
		copy(digest, msg[rdStart+4:rdEnd])
		return &DSRdata{
			KeyTag:     binary.BigEndian.Uint16(msg[rdStart:]),
			Algorithm:  msg[rdStart+2],
			DigestType: msg[rdStart+3],
			Digest:     digest,
		}, nil
	case TypeRRSIG:
		if rdStart+18 > rdEnd {
			return nil, ErrRdataTruncated
		}
		signer, next, err := unpackName(msg, rdStart+18)
		if err != nil {
			return nil, err
		}
		if next > rdEnd {
			return nil, ErrRdataTruncated
		}
		sig := make([]byte, rdEnd-next)
		copy(sig, msg[next:rdEnd])
		return &RRSIGRdata{
			TypeCovered: Type(binary.BigEndian.Uint16(msg[rdStart:])),
			Algorithm:   msg[rdStart+2],
			Labels:      msg[rdStart+3],
			OriginalTTL: binary.BigEndian.Uint32(msg[rdStart+4:]),
			Expiration:  binary.BigEndian.Uint32(msg[rdStart+8:]),
			Inception:   binary.BigEndian.Uint32(msg[rdStart+12:]),
			KeyTag:      binary.BigEndian.Uint16(msg[rdStart+16:]),
			SignerName:  signer,
			Signature:   sig,
		}, nil
	case TypeNSEC:
		nextDomain, nameEnd, err := unpackName(msg, rdStart)
		if err != nil {
			return nil, err
		}
		if nameEnd > rdEnd {
			return nil, ErrRdataTruncated
		}
		bitmap := make([]byte, rdEnd-nameEnd)
		copy(bitmap, msg[nameEnd:rdEnd])
		return &NSECRdata{NextDomain: nextDomain, TypeBitmap: bitmap}, nil
	case TypeNSEC3:
		if rdStart+5 > rdEnd {
			return nil, ErrRdataTruncated
		}
		saltLen := int(msg[rdStart+4])
		i := rdStart + 5
		if i+saltLen+1 > rdEnd {
			return nil, ErrRdataTruncated
		}
		salt := make([]byte, saltLen)
		copy(salt, msg[i:i+saltLen])
		i += saltLen
		hashLen := int(msg[i])
		i++
		if i+hashLen > rdEnd {
			return nil, ErrRdataTruncated
		}
		nextHashed := make([]byte, hashLen)
		copy(nextHashed, msg[i:i+hashLen])
		i += hashLen
		bitmap := make([]byte, rdEnd-i)
		copy(bitmap, msg[i:rdEnd])
		return &NSEC3Rdata{
			HashAlgorithm: msg[rdStart],
			Flags:         msg[rdStart+1],
			Iterations:    binary.BigEndian.Uint16(msg[rdStart+2:]),
			Salt:          salt,
			NextHashed:    nextHashed,
			TypeBitmap:    bitmap,
		}, nil
	case TypeNSEC3PARAM:
		if rdStart+5 > rdEnd {
			return nil, ErrRdataTruncated
		}
		saltLen := int(msg[rdStart+4])
		if rdStart+5+saltLen > rdEnd {
			return nil, ErrRdataTruncated
		}
		salt := make([]byte, saltLen)
		copy(salt, msg[rdStart+5:rdStart+5+saltLen])
		return &NSEC3PARAMRdata{
			HashAlgorithm: msg[rdStart],
			Flags:         msg[rdStart+1],
			Iterations:    binary.BigEndian.Uint16(msg[rdStart+2:]),
			Salt:          salt,
		}, nil
	case TypeTLSA:
		if rdStart+3 > rdEnd {
			return nil, ErrRdataTruncated
		}
		cert := make([]byte, rdEnd-(rdStart+3))
		copy(cert, msg[rdStart+3:rdEnd])
		return &TLSARdata{
			Usage:        msg[rdStart],
			Selector:     msg[rdStart+1],
			MatchingType: msg[rdStart+2],
			Cert:         cert,
		}, nil
	case TypeSVCB, TypeHTTPS:
		if rdStart+2 > rdEnd {
			return nil, ErrRdataTruncated
		}
		pri := binary.BigEndian.Uint16(msg[rdStart:])
		target, next, err := unpackName(msg, rdStart+2)
		if err != nil {
			return nil, err
		}
		if next > rdEnd {
			return nil, ErrRdataTruncated
		}
		params := make([]byte, rdEnd-next)
		copy(params, msg[next:rdEnd])
		base := SVCBRdata{Priority: pri, Target: target, ParamsWire: params}
		if typ == TypeHTTPS {
			return &HTTPSRdata{SVCBRdata: base}, nil
		}
		return &base, nil
	case TypeLOC:
		if rdLen != 16 {
			return raw(), nil
		}
		return &LOCRdata{
			Version:   msg[rdStart],
			Size:      msg[rdStart+1],
			HorizPre:  msg[rdStart+2],
			VertPre:   msg[rdStart+3],
			Latitude:  binary.BigEndian.Uint32(msg[rdStart+4:]),
			Longitude: binary.BigEndian.Uint32(msg[rdStart+8:]),
			Altitude:  binary.BigEndian.Uint32(msg[rdStart+12:]),
		}, nil
	case TypeNAPTR:
		if rdStart+4 > rdEnd {
			return nil, ErrRdataTruncated
		}
		order := binary.BigEndian.Uint16(msg[rdStart:])
		pref := binary.BigEndian.Uint16(msg[rdStart+2:])
		i := rdStart + 4
		readStr := func() (string, error) {
			if i >= rdEnd {
				return "", ErrRdataTruncated
			}
			n := int(msg[i])
			i++
			if i+n > rdEnd {
				return "", ErrRdataTruncated
			}
			s := string(msg[i : i+n])
			i += n
			return s, nil
		}
		flags, err := readStr()
		if err != nil {
			return nil, err
		}
		services, err := readStr()
		if err != nil {
			return nil, err
		}
		regexp, err := readStr()
		if err != nil {
			return nil, err
		}
		replacement, _, err := unpackName(msg, i)
		if err != nil {
			return nil, err
		}
		return &NAPTRRdata{
			Order: order, Preference: pref,
			Flags: flags, Services: services, Regexp: regexp,
			Replacement: replacement,
		}, nil
	case TypeOPT:
		opt := &OPTRdata{}
		i := rdStart
		for i < rdEnd {
			if i+4 > rdEnd {
				return nil, ErrRdataTruncated
			}
			code := binary.BigEndian.Uint16(msg[i:])
			optLen := int(binary.BigEndian.Uint16(msg[i+2:]))
			i += 4
			if i+optLen > rdEnd {
				return nil, ErrRdataTruncated
			}
			data := make([]byte, optLen)
			copy(data, msg[i:i+optLen])
			opt.Options = append(opt.Options, EDNS0Option{Code: code, Data: data})
			i += optLen
		}
		return opt, nil
	default:
		return raw(), nil
	}
}
