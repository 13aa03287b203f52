package cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/heimdall-dns/heimdall/wire"
)

func secondsToDuration(s uint32) time.Duration {
	return time.Duration(s) * time.Second
}

// Snapshot file layout: 4-byte magic "HMDL", 4-byte version, then a
// stream of records:
//   2-byte key-name length | name bytes | 2-byte type | 2-byte class |
//   4-byte original TTL | 1 flags byte (bit0=negative, bit1=nxdomain,
//   bit2=nodata) | 4-byte remaining-TTL-at-save-time | 4-byte payload
//   length | wire-serialized packet.
// Every length is read and bounds-checked before the corresponding read —
// no out-of-bounds read on a truncated file.
var magic = [4]byte{'H', 'M', 'D', 'L'}

const formatVersion = 1

const (
	flagNegative = 1 << iota
	flagNXDomain
	flagNoData
)

var ErrBadMagic = errors.New("cache: snapshot has bad magic")
var ErrUnsupportedVersion = errors.New("cache: unsupported snapshot version")

// Save writes a snapshot of every live entry in both tiers to path, via a
// tmp-file-then-rename so a reader never observes a partial file.
func (c *Cache) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cache: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(magic[:]); err != nil {
		f.Close()
		return err
	}
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], formatVersion)
	if _, err := w.Write(verBuf[:]); err != nil {
		f.Close()
		return err
	}

	writeErr := error(nil)
	write := func(key Key, e *Entry) {
		if writeErr != nil || !e.Live() {
			return
		}
		writeErr = writeRecord(w, key, e)
	}
	c.hot.forEach(write)
	c.main.forEach(write)
	if writeErr != nil {
		f.Close()
		return writeErr
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeRecord(w io.Writer, key Key, e *Entry) error {
	nameBytes := []byte(key.Name)
	if len(nameBytes) > 0xFFFF {
		nameBytes = nameBytes[:0xFFFF]
	}
	buf := make([]byte, 65536)
	n, err := e.packet.Serialize(buf)
	if err != nil {
		return err
	}

	var nameLenBuf [2]byte
	binary.BigEndian.PutUint16(nameLenBuf[:], uint16(len(nameBytes)))

	var flags byte
	if e.isNegative {
		flags |= flagNegative
	}
	if e.isNXDomain {
		flags |= flagNXDomain
	}
	if e.isNoData {
		flags |= flagNoData
	}

	if _, err := w.Write(nameLenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(nameBytes); err != nil {
		return err
	}
	var rest [2 + 2 + 4 + 1 + 4 + 4]byte
	binary.BigEndian.PutUint16(rest[0:], uint16(key.Type))
	binary.BigEndian.PutUint16(rest[2:], uint16(key.Class))
	binary.BigEndian.PutUint32(rest[4:], e.originalTTL)
	rest[8] = flags
	binary.BigEndian.PutUint32(rest[9:], e.RemainingTTL())
	binary.BigEndian.PutUint32(rest[13:], uint32(n))
	if _, err := w.Write(rest[:]); err != nil {
		return err
	}
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	return nil
}

// Load reads a snapshot written by Save and inserts every non-expired
// entry into the main tier (promotion to hot happens naturally via normal
// access afterward). A format-version mismatch or bad magic falls back to
// an empty cache with a logged warning rather than a fatal startup error.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		log.Warn("cache snapshot truncated, starting empty", "path", path, "err", err)
		return nil
	}
	if gotMagic != magic {
		log.Warn("cache snapshot bad magic, starting empty", "path", path)
		return nil
	}
	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		log.Warn("cache snapshot truncated, starting empty", "path", path, "err", err)
		return nil
	}
	if binary.BigEndian.Uint32(verBuf[:]) != formatVersion {
		log.Warn("cache snapshot version mismatch, starting empty", "path", path)
		return nil
	}

	loaded := 0
	for {
		key, e, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("cache snapshot truncated mid-record, stopping load", "path", path, "loaded", loaded, "err", err)
			break
		}
		if e.Live() {
			c.main.put(key, e)
			if e.isNXDomain && c.harden {
				c.negTrie.insert(key.Name)
			}
			loaded++
		}
	}
	log.Info("cache snapshot loaded", "path", path, "entries", loaded)
	return nil
}

func readRecord(r io.Reader) (Key, *Entry, error) {
	var nameLenBuf [2]byte
	if _, err := io.ReadFull(r, nameLenBuf[:]); err != nil {
		return Key{}, nil, err
	}
	nameLen := binary.BigEndian.Uint16(nameLenBuf[:])
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return Key{}, nil, io.ErrUnexpectedEOF
	}

	var rest [2 + 2 + 4 + 1 + 4 + 4]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return Key{}, nil, io.ErrUnexpectedEOF
	}
	qtype := wire.Type(binary.BigEndian.Uint16(rest[0:]))
	class := wire.Class(binary.BigEndian.Uint16(rest[2:]))
	originalTTL := binary.BigEndian.Uint32(rest[4:])
	flags := rest[8]
	remainingTTL := binary.BigEndian.Uint32(rest[9:])
	payloadLen := binary.BigEndian.Uint32(rest[13:])

	const maxPayload = 1 << 20
	if payloadLen > maxPayload {
		return Key{}, nil, fmt.Errorf("cache: implausible payload length %d", payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Key{}, nil, io.ErrUnexpectedEOF
	}

	p, err := wire.Parse(payload)
	if err != nil {
		return Key{}, nil, err
	}
	key := NewKey(string(nameBytes), qtype, class)
	e := &Entry{
		packet:      p,
		expiry:      now().Add(secondsToDuration(remainingTTL)),
		originalTTL: originalTTL,
		isNegative:  flags&flagNegative != 0,
		isNXDomain:  flags&flagNXDomain != 0,
		isNoData:    flags&flagNoData != 0,
	}
	return key, e, nil
}
