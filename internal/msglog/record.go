package msglog

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding: varint payloadLen | payload | crc32c(payload).
// The payload is the envelope JSON; the checksum guards against torn or
// bit-rotted values surfacing as corrupt envelopes.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(payload []byte) []byte {
	out := make([]byte, 0, 10+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(payload)))
	out = append(out, tmp[:n]...)
	out = append(out, payload...)

	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(payload, castagnoli))
	return append(out, crcb[:]...)
}

func decodeRecord(b []byte) ([]byte, bool) {
	if len(b) < 1+4 {
		return nil, false
	}
	plen, n := binary.Uvarint(b)
	if n <= 0 || int(plen)+n+4 != len(b) {
		return nil, false
	}
	payload := b[n : n+int(plen)]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(payload, castagnoli) != expect {
		return nil, false
	}
	return append([]byte(nil), payload...), true
}
