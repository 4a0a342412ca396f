package msglog

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
)

// ReadRecipient returns finalized envelopes addressed to recipient with
// sequence > sinceSeq, ascending, up to limit (0 = no limit). Reads are
// lock-free with respect to ingestion: they operate on Pebble's snapshot
// isolation and never touch provisional state.
func (l *Log) ReadRecipient(recipient string, sinceSeq uint64, limit int) ([]envelope.Envelope, error) {
	low, high := keyRecipientBounds(l.shard, recipient, sinceSeq)
	it, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []envelope.Envelope
	for ok := it.First(); ok; ok = it.Next() {
		k := it.Key()
		seq := binary.BigEndian.Uint64(k[len(k)-8:])
		env, err := l.Get(seq)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ReadLog returns finalized envelopes with sequence > sinceSeq across all
// recipients, ascending, up to limit (0 = no limit).
func (l *Log) ReadLog(sinceSeq uint64, limit int) ([]envelope.Envelope, error) {
	low := keyEntry(l.shard, sinceSeq+1)
	high := append(keyEntry(l.shard, ^uint64(0)), 0x00)
	it, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []envelope.Envelope
	for ok := it.First(); ok; ok = it.Next() {
		env, err := decodeEnvelope(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
