package msglog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
	pebblestore "github.com/Mister-Yo/whisper-protocol/internal/storage/pebble"
)

var (
	// ErrNotFound marks a missing sequence.
	ErrNotFound = errors.New("msglog: envelope not found")
	// ErrCorrupt signals cursor/data divergence discovered on open. This is
	// fatal: the operator must intervene before the pipeline resumes.
	ErrCorrupt = errors.New("msglog: cursor and log diverge")
)

// Cursor is the per-shard ingestion checkpoint, persisted atomically with
// every finalized batch.
type Cursor struct {
	LastFinalizedHeight uint64 `json:"last_finalized_height"`
	LastSequence        uint64 `json:"last_sequence"`
}

// Log is the durable, truly append-only store of finalized envelopes for a
// single shard. Sequences are assigned here, under one Pebble batch with the
// cursor, so a crash can never produce partial or duplicate sequencing.
type Log struct {
	db    *pebblestore.DB
	shard string

	mu       sync.Mutex
	cursor   Cursor
	notifyCh chan struct{}

	nowMs func() int64
}

// Open loads the shard's cursor and verifies it agrees with the log tail.
func Open(db *pebblestore.DB, shard string) (*Log, error) {
	l := &Log{db: db, shard: shard, notifyCh: make(chan struct{}), nowMs: func() int64 { return time.Now().UnixMilli() }}
	if b, err := db.Get(keyCursor(shard)); err == nil {
		if err := json.Unmarshal(b, &l.cursor); err != nil {
			return nil, fmt.Errorf("msglog: corrupt cursor for shard %s: %w", shard, err)
		}
	}
	if err := l.verifyTail(); err != nil {
		return nil, err
	}
	return l, nil
}

// verifyTail cross-checks the persisted cursor against the highest entry
// actually present. Because both commit in one batch they can only diverge
// through external corruption, which must halt the pipeline.
func (l *Log) verifyTail() error {
	low := keyEntry(l.shard, 0)
	high := append(keyEntry(l.shard, ^uint64(0)), 0x00)
	it, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return err
	}
	defer it.Close()
	var tail uint64
	if it.Last() {
		k := it.Key()
		tail = binary.BigEndian.Uint64(k[len(k)-8:])
	}
	if tail != l.cursor.LastSequence {
		return fmt.Errorf("%w: cursor seq %d, log tail %d", ErrCorrupt, l.cursor.LastSequence, tail)
	}
	return nil
}

// Shard returns the shard name.
func (l *Log) Shard() string { return l.shard }

// Cursor returns the current checkpoint.
func (l *Log) Cursor() Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// MessageCount returns the number of finalized envelopes.
func (l *Log) MessageCount() uint64 { return l.Cursor().LastSequence }

// AppendFinalized persists a finalized batch: each non-duplicate candidate
// gets the next sequence and the ingest timestamp, and the cursor advances
// to finalizedHeight, all in one atomic batch. Duplicates (message_id
// already stored) are skipped silently. The returned slice holds only the
// envelopes that were actually appended, with Sequence assigned.
func (l *Log) AppendFinalized(ctx context.Context, finalizedHeight uint64, candidates []envelope.Envelope) ([]envelope.Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if finalizedHeight < l.cursor.LastFinalizedHeight {
		return nil, fmt.Errorf("msglog: finalized height moved backwards: %d < %d",
			finalizedHeight, l.cursor.LastFinalizedHeight)
	}

	b := l.db.NewBatch()
	defer b.Close()

	appended := make([]envelope.Envelope, 0, len(candidates))
	seq := l.cursor.LastSequence
	now := l.nowMs()
	for _, cand := range candidates {
		if _, dup := l.lookupDedup(cand.MessageID); dup {
			continue
		}
		seq++
		cand.Sequence = seq
		cand.IngestedAtMs = now

		payload, err := json.Marshal(cand)
		if err != nil {
			return nil, err
		}
		if err := b.Set(keyEntry(l.shard, seq), encodeRecord(payload), nil); err != nil {
			return nil, err
		}
		var seqB [8]byte
		binary.BigEndian.PutUint64(seqB[:], seq)
		if err := b.Set(keyDedup(l.shard, cand.MessageID), seqB[:], nil); err != nil {
			return nil, err
		}
		if err := b.Set(keyRecipient(l.shard, cand.Recipient, seq), nil, nil); err != nil {
			return nil, err
		}
		appended = append(appended, cand)
	}

	next := Cursor{LastFinalizedHeight: finalizedHeight, LastSequence: seq}
	curB, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	if err := b.Set(keyCursor(l.shard), curB, nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.cursor = next

	if len(appended) > 0 {
		// wake subscribers
		close(l.notifyCh)
		l.notifyCh = make(chan struct{})
	}
	return appended, nil
}

// HasMessage reports whether message_id is already stored, and at which
// sequence.
func (l *Log) HasMessage(messageID string) (uint64, bool) {
	return l.lookupDedup(messageID)
}

func (l *Log) lookupDedup(messageID string) (uint64, bool) {
	b, err := l.db.Get(keyDedup(l.shard, messageID))
	if err != nil || len(b) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b[:8]), true
}

// Get returns the envelope at seq.
func (l *Log) Get(seq uint64) (envelope.Envelope, error) {
	b, err := l.db.Get(keyEntry(l.shard, seq))
	if err != nil {
		return envelope.Envelope{}, ErrNotFound
	}
	return decodeEnvelope(b)
}

func decodeEnvelope(raw []byte) (envelope.Envelope, error) {
	payload, ok := decodeRecord(raw)
	if !ok {
		return envelope.Envelope{}, fmt.Errorf("msglog: corrupt record")
	}
	var env envelope.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope.Envelope{}, fmt.Errorf("msglog: corrupt envelope: %w", err)
	}
	return env, nil
}
