package msglog

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable), one keyspace per shard:
// - sh/{shard}/cur                         (ingestion cursor JSON)
// - sh/{shard}/e/{seq_be8}                      (finalized envelope records)
// - sh/{shard}/id/{message_id}                  (dedup index: message_id -> seq_be8)
// - sh/{shard}/r/{rlen_be4}{recipient}/{seq_be8} (recipient index, empty values)
//
// The recipient segment is length-prefixed: group recipients look like
// group/{id}, so a raw segment would let scan bounds for one account match
// keys of every account it is a path prefix of.

var (
	sep       = byte('/')
	shardPfx  = []byte("sh/")
	cursorSfx = []byte("/cur")
	entrySeg  = []byte("/e/")
	dedupSeg  = []byte("/id/")
	rcptSeg   = []byte("/r/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyCursor builds the durable cursor key for a shard.
func keyCursor(shard string) []byte {
	k := make([]byte, 0, len(shardPfx)+len(shard)+len(cursorSfx))
	k = append(k, shardPfx...)
	k = append(k, shard...)
	k = append(k, cursorSfx...)
	return k
}

// keyEntry builds an envelope key with a big-endian sequence for ordering.
func keyEntry(shard string, seq uint64) []byte {
	k := make([]byte, 0, len(shardPfx)+len(shard)+len(entrySeg)+8)
	k = append(k, shardPfx...)
	k = append(k, shard...)
	k = append(k, entrySeg...)
	return appendBE8(k, seq)
}

// keyDedup builds the message-id uniqueness index key.
func keyDedup(shard, messageID string) []byte {
	k := make([]byte, 0, len(shardPfx)+len(shard)+len(dedupSeg)+len(messageID))
	k = append(k, shardPfx...)
	k = append(k, shard...)
	k = append(k, dedupSeg...)
	k = append(k, messageID...)
	return k
}

// keyRecipient builds the per-recipient index key.
func keyRecipient(shard, recipient string, seq uint64) []byte {
	k := make([]byte, 0, len(shardPfx)+len(shard)+len(rcptSeg)+4+len(recipient)+9)
	k = append(k, shardPfx...)
	k = append(k, shard...)
	k = append(k, rcptSeg...)
	k = appendBE4(k, uint32(len(recipient)))
	k = append(k, recipient...)
	k = append(k, sep)
	return appendBE8(k, seq)
}

// keyRecipientBounds returns the [low, high) scan bounds for a recipient
// starting strictly after sinceSeq.
func keyRecipientBounds(shard, recipient string, sinceSeq uint64) (low, high []byte) {
	low = keyRecipient(shard, recipient, sinceSeq+1)
	high = keyRecipient(shard, recipient, ^uint64(0))
	high = append(high, 0x00)
	return low, high
}
