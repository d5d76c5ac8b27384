package bitcask

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Record header layout: keyLen(4) valueLen(4) flag(4) ver(8) crc(4),
// followed by key bytes then value bytes. crc covers flag|ver|key|value
// (everything except the two length fields and itself).
const (
	offKeyLen   = 0
	offValueLen = 4
	offFlag     = 8
	offVer      = 12
	offCRC      = 20
	recordHeaderSize = 24
)

// tombstoneLen marks a deleted record's value length so replay at
// startup removes the key from the index instead of resurrecting an
// older record of it. Compaction copies only live index entries, so
// no tombstone is carried into the compacted segment.
const tombstoneLen = -1

// record is the on-disk encoding of one key/value pair: a
// self-contained, checksummed disk record.
type record struct {
	flag  uint32
	ver   int64
	key   []byte
	value []byte // nil (encoded with length tombstoneLen) for a delete tombstone
}

func (r *record) encodedLen() int {
	return recordHeaderSize + len(r.key) + len(r.value)
}

// encode writes the record into buf, which must be at least
// r.encodedLen() bytes long, and returns the number of bytes written.
func (r *record) encode(buf []byte) int {
	valueLen := int32(len(r.value))
	if r.value == nil {
		valueLen = tombstoneLen
	}
	binary.BigEndian.PutUint32(buf[offKeyLen:], uint32(len(r.key)))
	binary.BigEndian.PutUint32(buf[offValueLen:], uint32(valueLen))
	binary.BigEndian.PutUint32(buf[offFlag:], r.flag)
	binary.BigEndian.PutUint64(buf[offVer:], uint64(r.ver))

	n := recordHeaderSize
	n += copy(buf[n:], r.key)
	if r.value != nil {
		n += copy(buf[n:], r.value)
	}

	crc := crc32.Update(0, crc32.IEEETable, buf[offFlag:offCRC])
	crc = crc32.Update(crc, crc32.IEEETable, buf[recordHeaderSize:n])
	binary.BigEndian.PutUint32(buf[offCRC:], crc)
	return n
}

// header is a decoded record header.
type header struct {
	keyLen   int
	valueLen int32
	flag     uint32
	ver      int64
	crc      uint32
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < recordHeaderSize {
		return header{}, fmt.Errorf("bitcask: short record header (%d bytes)", len(buf))
	}
	return header{
		keyLen:   int(binary.BigEndian.Uint32(buf[offKeyLen:])),
		valueLen: int32(binary.BigEndian.Uint32(buf[offValueLen:])),
		flag:     binary.BigEndian.Uint32(buf[offFlag:]),
		ver:      int64(binary.BigEndian.Uint64(buf[offVer:])),
		crc:      binary.BigEndian.Uint32(buf[offCRC:]),
	}, nil
}

// verify recomputes the checksum of a header+payload buffer and
// compares it to the crc embedded in h.
func (h header) verify(buf []byte) bool {
	crc := crc32.Update(0, crc32.IEEETable, buf[offFlag:offCRC])
	crc = crc32.Update(crc, crc32.IEEETable, buf[recordHeaderSize:])
	return crc == h.crc
}
