// Package wire frames cache values for storage. The envelope carries the
// transform flags and the store timestamp so a value written under one
// namespace configuration can still be opened correctly after that
// configuration changes: the flags travel with the entry, not the config.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

// Flags describe the transforms applied to the payload, in application order
// (compress, then encrypt).
type Flags byte

const (
	FlagCompressed Flags = 1 << iota
	FlagEncrypted
)

func (f Flags) Compressed() bool { return f&FlagCompressed != 0 }
func (f Flags) Encrypted() bool  { return f&FlagEncrypted != 0 }

var (
	ErrCorrupt = errors.New("tiercache: corrupt entry")
	magic4     = [...]byte{'T', 'I', 'E', 'R'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Envelope: magic(4) | ver(1) | flags(1) | storedAt unix-nanos(u64 be) |
// vlen(u32 be) | payload(vlen)
func Encode(flags Flags, storedAt int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(flags))

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(storedAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func Decode(b []byte) (flags Flags, storedAt int64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return 0, 0, nil, ErrCorrupt
	}

	flags = Flags(b[5])
	off := 6

	storedAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
		return 0, 0, nil, ErrCorrupt
	}

	return flags, storedAt, b[off : off+vlen], nil
}
