package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mister-Yo/whisper-protocol/internal/chainstream"
	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
	"github.com/Mister-Yo/whisper-protocol/internal/msglog"
	pebblestore "github.com/Mister-Yo/whisper-protocol/internal/storage/pebble"
)

func newTestLog(t *testing.T) *msglog.Log {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l, err := msglog.Open(db, "0")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

type countingMetrics struct {
	mu         sync.Mutex
	ingested   int
	duplicates int
	mismatches int
	rolledBack int
}

func (m *countingMetrics) IngestedMessages(n int) { m.mu.Lock(); m.ingested += n; m.mu.Unlock() }
func (m *countingMetrics) DuplicateEvent()        { m.mu.Lock(); m.duplicates++; m.mu.Unlock() }
func (m *countingMetrics) SchemaMismatch()        { m.mu.Lock(); m.mismatches++; m.mu.Unlock() }
func (m *countingMetrics) ReorgRollback(n int)    { m.mu.Lock(); m.rolledBack += n; m.mu.Unlock() }
func (m *countingMetrics) FinalizedBatch(uint64)  {}
func (m *countingMetrics) StagedPending(int)      {}

func (m *countingMetrics) snapshot() (ingested, duplicates, mismatches, rolledBack int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingested, m.duplicates, m.mismatches, m.rolledBack
}

// runPipeline starts a pipeline over a fresh ChanSource and returns a stop
// function that closes the source and waits for Run to return.
func runPipeline(t *testing.T, l *msglog.Log, depth uint64, met Metrics) (*chainstream.ChanSource, *Pipeline, func() error) {
	t.Helper()
	src := chainstream.NewChanSource(64)
	p := New(src, l, Options{FinalityDepth: depth, Metrics: met})
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()
	stop := func() error {
		src.Close()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not stop")
			return nil
		}
	}
	return src, p, stop
}

func testEvent(t *testing.T, txID string, logIndex uint32, sender, recipient string) json.RawMessage {
	t.Helper()
	rec := envelope.EventRecord{
		SchemaVersion:       envelope.SchemaVersion,
		SourceTxID:          txID,
		LogIndex:            logIndex,
		Sender:              sender,
		Recipient:           recipient,
		Ciphertext:          []byte("ciphertext"),
		Nonce:               make([]byte, envelope.NonceSize),
		EphemeralPublicKey:  make([]byte, envelope.KeySize),
		RecipientKeyVersion: 1,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw
}

func pushBlock(t *testing.T, src *chainstream.ChanSource, height uint64, hash string, events ...json.RawMessage) {
	t.Helper()
	if err := src.PushBlock(context.Background(), chainstream.Block{Height: height, Hash: hash, Events: events}); err != nil {
		t.Fatalf("push block %d: %v", height, err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFinalityGatesVisibility(t *testing.T) {
	l := newTestLog(t)
	src, _, stop := runPipeline(t, l, 2, nil)

	pushBlock(t, src, 10, "h10", testEvent(t, "tx1", 0, "alice.near", "bob.near"))
	pushBlock(t, src, 11, "h11")
	waitUntil(t, func() bool { return l.Cursor().LastFinalizedHeight == 9 })
	if got := l.Cursor().LastSequence; got != 0 {
		t.Fatalf("message visible before finality: last_sequence = %d", got)
	}

	// height 12 puts block 10 at depth 2: the message finalizes
	pushBlock(t, src, 12, "h12")
	waitUntil(t, func() bool { return l.Cursor().LastSequence == 1 })
	if got := l.Cursor().LastFinalizedHeight; got != 10 {
		t.Fatalf("finalized height = %d, want 10", got)
	}
	msgs, err := l.ReadRecipient("bob.near", 0, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read recipient: %v msgs=%d", err, len(msgs))
	}
	if msgs[0].Sequence != 1 || msgs[0].SourceBlockHeight != 10 {
		t.Fatalf("unexpected envelope: %+v", msgs[0])
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestGapFreeSequencing(t *testing.T) {
	l := newTestLog(t)
	src, _, stop := runPipeline(t, l, 1, nil)

	for h := uint64(1); h <= 10; h++ {
		pushBlock(t, src, h, "hash"+string(rune('a'+h)),
			testEvent(t, "tx", uint32(h), "alice.near", "bob.near"),
			testEvent(t, "tx", uint32(100+h), "carol.near", "bob.near"))
	}
	pushBlock(t, src, 11, "tip")
	waitUntil(t, func() bool { return l.Cursor().LastSequence == 20 })

	msgs, err := l.ReadLog(0, 100)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for i, m := range msgs {
		if m.Sequence != uint64(i+1) {
			t.Fatalf("sequence gap at %d: got %d", i, m.Sequence)
		}
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestReplayedEventIsIdempotent(t *testing.T) {
	l := newTestLog(t)
	met := &countingMetrics{}
	src, _, stop := runPipeline(t, l, 1, met)

	ev := testEvent(t, "tx1", 0, "alice.near", "bob.near")
	pushBlock(t, src, 5, "h5", ev)
	// the source replays the same block, then the stream moves on
	pushBlock(t, src, 5, "h5", ev)
	pushBlock(t, src, 6, "h6", ev) // same tx replayed inside a later block too
	pushBlock(t, src, 7, "h7")
	waitUntil(t, func() bool { return l.Cursor().LastFinalizedHeight == 6 })

	if got := l.Cursor().LastSequence; got != 2 {
		// block 6 carries the same tx but a different block hash, so its
		// message_id differs and it stores once; the true duplicate at
		// height 5 must not consume a sequence
		t.Fatalf("last_sequence = %d, want 2", got)
	}
	if _, dups, _, _ := met.snapshot(); dups != 1 {
		t.Fatalf("duplicate count = %d, want 1", dups)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestReorgDropsProvisionalAndNewBranchGetsDistinctID(t *testing.T) {
	l := newTestLog(t)
	met := &countingMetrics{}
	src, _, stop := runPipeline(t, l, 3, met)

	ev := testEvent(t, "tx1", 0, "alice.near", "bob.near")
	pushBlock(t, src, 20, "branch-a", ev)
	if err := src.PushReorg(context.Background(), 20); err != nil {
		t.Fatalf("push reorg: %v", err)
	}
	pushBlock(t, src, 20, "branch-b", ev)
	pushBlock(t, src, 21, "h21")
	pushBlock(t, src, 22, "h22")
	pushBlock(t, src, 23, "h23")
	waitUntil(t, func() bool { return l.Cursor().LastSequence == 1 })

	msgs, err := l.ReadRecipient("bob.near", 0, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read: %v msgs=%d", err, len(msgs))
	}
	wantID := envelope.DeriveMessageID("branch-b", "tx1", 0)
	if msgs[0].MessageID != wantID {
		t.Fatalf("message_id = %s, want new-branch id %s", msgs[0].MessageID, wantID)
	}
	droppedID := envelope.DeriveMessageID("branch-a", "tx1", 0)
	if _, found := l.HasMessage(droppedID); found {
		t.Fatal("abandoned-branch message must never be stored")
	}
	if _, _, _, rolledBack := met.snapshot(); rolledBack != 1 {
		t.Fatalf("rolled back = %d, want 1", rolledBack)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestReorgBelowFinalizedWatermarkIsFatal(t *testing.T) {
	l := newTestLog(t)
	src, p, _ := runPipeline(t, l, 1, nil)

	pushBlock(t, src, 1, "h1", testEvent(t, "tx1", 0, "alice.near", "bob.near"))
	pushBlock(t, src, 2, "h2")
	waitUntil(t, func() bool { return l.Cursor().LastFinalizedHeight == 1 })

	errCh := make(chan error, 1)
	go func() {
		// drive until Run returns; the rollback target is already final
		errCh <- src.PushReorg(context.Background(), 1)
	}()
	if err := <-errCh; err != nil {
		t.Fatalf("push reorg: %v", err)
	}
	waitUntil(t, func() bool { return p.State() == StateStopped })
	src.Close()
}

func TestSchemaMismatchDroppedStreamContinues(t *testing.T) {
	l := newTestLog(t)
	met := &countingMetrics{}
	src, _, stop := runPipeline(t, l, 1, met)

	bad := json.RawMessage(`{"schema_version": 99}`)
	notJSON := json.RawMessage(`garbage`)
	pushBlock(t, src, 1, "h1", bad, testEvent(t, "tx1", 1, "alice.near", "bob.near"), notJSON)
	pushBlock(t, src, 2, "h2")
	waitUntil(t, func() bool { return l.Cursor().LastSequence == 1 })

	if _, _, mismatches, _ := met.snapshot(); mismatches != 2 {
		t.Fatalf("schema mismatch count = %d, want 2", mismatches)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRestartResumesFromCursor(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l, err := msglog.Open(db, "0")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}

	src, _, stop := runPipeline(t, l, 1, nil)
	pushBlock(t, src, 1, "h1", testEvent(t, "tx1", 0, "alice.near", "bob.near"))
	pushBlock(t, src, 2, "h2")
	waitUntil(t, func() bool { return l.Cursor().LastSequence == 1 })
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// second run replays from the source; the stored message stays single
	l2, err := msglog.Open(db, "0")
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	src2, _, stop2 := runPipeline(t, l2, 1, nil)
	pushBlock(t, src2, 2, "h2", testEvent(t, "tx2", 0, "alice.near", "bob.near"))
	pushBlock(t, src2, 3, "h3")
	waitUntil(t, func() bool { return l2.Cursor().LastSequence == 2 })
	if got := l2.Cursor().LastFinalizedHeight; got != 2 {
		t.Fatalf("finalized height after restart = %d, want 2", got)
	}
	if err := stop2(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l := newTestLog(t)
	src := chainstream.NewChanSource(1)
	p := New(src, l, Options{FinalityDepth: 1})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("clean shutdown should return nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if p.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", p.State())
	}
}

func TestFatalReorgErrorKind(t *testing.T) {
	l := newTestLog(t)
	src := chainstream.NewChanSource(4)
	p := New(src, l, Options{FinalityDepth: 1})

	ctx := context.Background()
	pushBlock(t, src, 1, "h1")
	pushBlock(t, src, 2, "h2")
	if err := src.PushReorg(ctx, 1); err != nil {
		t.Fatalf("push reorg: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReorgBelowFinal) {
			t.Fatalf("want ErrReorgBelowFinal, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not halt")
	}
}
