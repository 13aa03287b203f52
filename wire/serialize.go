package wire

// Serialize encodes p into buf. Names are always written uncompressed on
// the serialization path, trading a few bytes for a codec with no
// encode-side compression-map bookkeeping. If
// the full message does not fit in buf, whole records are dropped from the
// end of the additional, then authority, then answer sections until what
// remains fits, the TC bit is set, and the section counts in the returned
// header reflect what was actually written — mirroring the record-boundary
// truncation behavior of a real authoritative/recursive server response.
//
// It returns the number of bytes written, or an error if even the header
// and question section do not fit.
func (p *Packet) Serialize(buf []byte) (int, error) {
	b := newBuilder(buf)

	hdrOff := b.mark()
	if err := packHeader(b, p.Header); err != nil {
		return 0, err
	}
	for _, q := range p.Questions {
		if err := packName(b, q.Name); err != nil {
			return 0, err
		}
		if err := b.writeUint16(uint16(q.Type)); err != nil {
			return 0, err
		}
		if err := b.writeUint16(uint16(q.Class)); err != nil {
			return 0, err
		}
	}

	truncated := false
	anCount := packRRSectionTruncating(b, p.Answer, &truncated)
	nsCount := uint16(0)
	if !truncated {
		nsCount = packRRSectionTruncating(b, p.Ns, &truncated)
	}
	arCount := uint16(0)
	if !truncated {
		arCount = packRRSectionTruncating(b, p.Extra, &truncated)
	}

	if truncated {
		h := p.Header
		h.Truncated = true
		h.ANCount = anCount
		h.NSCount = nsCount
		h.ARCount = arCount
		// Re-pack the header in place now that the real counts and TC bit
		// are known; this is pure fixed-size overwrite, never a resize.
		hb := &builder{buf: buf[hdrOff : hdrOff+headerLen]}
		if err := packHeader(hb, h); err != nil {
			return 0, err
		}
	}

	return len(b.bytes()), nil
}

// packRRSectionTruncating writes each record in rrs, rolling back and
// stopping at the first record that does not fit. It returns the count of
// records actually written and sets *truncated if any record was dropped.
func packRRSectionTruncating(b *builder, rrs []RR, truncated *bool) uint16 {
	var n uint16
	for _, rr := range rrs {
		mark := b.mark()
		if err := packRR(b, rr); err != nil {
			b.rollback(mark)
			*truncated = true
			return n
		}
		n++
	}
	return n
}

func packRR(b *builder, rr RR) error {
	if err := packName(b, rr.Header.Name); err != nil {
		return err
	}
	if err := b.writeUint16(uint16(rr.Header.Type)); err != nil {
		return err
	}
	if err := b.writeUint16(uint16(rr.Header.Class)); err != nil {
		return err
	}
	ttl := rr.Header.TTL
	if opt, ok := rr.Rdata.(*OPTRdata); ok {
		ttl = opt.packedTTL()
	}
	if err := b.writeUint32(ttl); err != nil {
		return err
	}
	lenOff, err := b.reserveUint16()
	if err != nil {
		return err
	}
	before := b.mark()
	if err := rr.Rdata.pack(b, 0); err != nil {
		return err
	}
	b.patchUint16(lenOff, uint16(b.mark()-before))
	return nil
}
