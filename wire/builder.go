package wire

import "encoding/binary"

// builder accumulates serialized bytes into a caller-supplied buffer,
// returning ErrBufferFull instead of growing past its capacity.
type builder struct {
	buf []byte
	n   int
}

func newBuilder(buf []byte) *builder {
	return &builder{buf: buf}
}

func (b *builder) write(p []byte) error {
	if b.n+len(p) > len(b.buf) {
		return ErrBufferFull
	}
	copy(b.buf[b.n:], p)
	b.n += len(p)
	return nil
}

func (b *builder) writeByte(c byte) error {
	if b.n+1 > len(b.buf) {
		return ErrBufferFull
	}
	b.buf[b.n] = c
	b.n++
	return nil
}

func (b *builder) writeUint16(v uint16) error {
	if b.n+2 > len(b.buf) {
		return ErrBufferFull
	}
	binary.BigEndian.PutUint16(b.buf[b.n:], v)
	b.n += 2
	return nil
}

func (b *builder) writeUint32(v uint32) error {
	if b.n+4 > len(b.buf) {
		return ErrBufferFull
	}
	binary.BigEndian.PutUint32(b.buf[b.n:], v)
	b.n += 4
	return nil
}

// reserveUint16 writes a placeholder uint16 and returns its offset so the
// caller can patch it in later (used for rdlength, which is only known
// after the rdata has been written).
func (b *builder) reserveUint16() (int, error) {
	off := b.n
	if err := b.writeUint16(0); err != nil {
		return 0, err
	}
	return off, nil
}

func (b *builder) patchUint16(off int, v uint16) {
	binary.BigEndian.PutUint16(b.buf[off:], v)
}

func (b *builder) bytes() []byte {
	return b.buf[:b.n]
}

// mark returns the current write position, for rolling back a record that
// turns out not to fit (used by truncating serialization).
func (b *builder) mark() int { return b.n }

func (b *builder) rollback(n int) { b.n = n }
