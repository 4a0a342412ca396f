package chainstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestChanSourceOrdering(t *testing.T) {
	src := NewChanSource(8)
	ctx := context.Background()

	if err := src.PushBlock(ctx, Block{Height: 10, Hash: "a"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := src.PushReorg(ctx, 10); err != nil {
		t.Fatalf("push reorg: %v", err)
	}
	if err := src.PushBlock(ctx, Block{Height: 10, Hash: "b"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	src.Close()

	m, err := src.Next(ctx)
	if err != nil || m.Block == nil || m.Block.Hash != "a" {
		t.Fatalf("first message: %+v err=%v", m, err)
	}
	m, err = src.Next(ctx)
	if err != nil || m.Reorg == nil || m.Reorg.FromHeight != 10 {
		t.Fatalf("second message: %+v err=%v", m, err)
	}
	m, err = src.Next(ctx)
	if err != nil || m.Block == nil || m.Block.Hash != "b" {
		t.Fatalf("third message: %+v err=%v", m, err)
	}
	if _, err = src.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("after close: want ErrClosed, got %v", err)
	}
}

func TestChanSourceBackpressure(t *testing.T) {
	src := NewChanSource(1)
	ctx := context.Background()
	if err := src.PushBlock(ctx, Block{Height: 1}); err != nil {
		t.Fatalf("push: %v", err)
	}

	// Buffer is full; a second push must block until cancelled.
	pushCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := src.PushBlock(pushCtx, Block{Height: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("full push: want deadline exceeded, got %v", err)
	}
}

func TestChanSourcePushAfterClose(t *testing.T) {
	src := NewChanSource(1)
	ctx := context.Background()
	src.Close()
	if err := src.PushBlock(ctx, Block{Height: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("push after close: want ErrClosed, got %v", err)
	}
	src.Close() // idempotent
}

func TestChanSourceCloseUnblocksFullPush(t *testing.T) {
	src := NewChanSource(1)
	ctx := context.Background()
	if err := src.PushBlock(ctx, Block{Height: 1}); err != nil {
		t.Fatalf("push: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- src.PushBlock(ctx, Block{Height: 2}) }()
	time.Sleep(20 * time.Millisecond)
	src.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("blocked push after close: want ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked push never returned after close")
	}

	// the message buffered before close still drains
	if m, err := src.Next(ctx); err != nil || m.Block == nil || m.Block.Height != 1 {
		t.Fatalf("drain after close: %+v err=%v", m, err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed after drain, got %v", err)
	}
}

func TestChanSourceNextCancel(t *testing.T) {
	src := NewChanSource(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestPolicyDelayBounds(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2.0}
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			if d < 0 || d > p.Cap {
				t.Fatalf("attempt %d: delay %v out of [0, %v]", attempt, d, p.Cap)
			}
		}
	}
}

func TestPolicyExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	if p.Exhausted(2) {
		t.Fatal("attempt 2 of 3 should not be exhausted")
	}
	if !p.Exhausted(3) {
		t.Fatal("attempt 3 of 3 should be exhausted")
	}
	forever := Policy{}
	if forever.Exhausted(1 << 20) {
		t.Fatal("MaxAttempts 0 must never exhaust")
	}
}

func TestClientPollsPagesInOrder(t *testing.T) {
	pages := map[uint64]blocksResponse{
		0: {Blocks: []Block{
			{Height: 0, Hash: "h0", Events: []json.RawMessage{json.RawMessage(`{"n":1}`)}},
			{Height: 1, Hash: "h1"},
		}},
		2: {
			Reorg:  &Reorg{FromHeight: 1},
			Blocks: []Block{{Height: 1, Hash: "h1b"}, {Height: 2, Hash: "h2"}},
		},
	}
	var fromSeen []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
		fromSeen = append(fromSeen, from)
		_ = json.NewEncoder(w).Encode(pages[from])
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		Endpoint:     srv.URL,
		PollInterval: time.Millisecond,
		Backoff:      Policy{Base: time.Millisecond, Cap: time.Millisecond},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	for i := 0; i < 5; i++ {
		m, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		switch {
		case m.Block != nil:
			got = append(got, m.Block.Hash)
		case m.Reorg != nil:
			got = append(got, "reorg@"+strconv.FormatUint(m.Reorg.FromHeight, 10))
		}
	}

	want := []string{"h0", "h1", "reorg@1", "h1b", "h2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message order: got %v want %v", got, want)
		}
	}
	// The second request must resume at the height after the first page.
	if len(fromSeen) < 2 || fromSeen[0] != 0 || fromSeen[1] != 2 {
		t.Fatalf("from params: %v", fromSeen)
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(blocksResponse{Blocks: []Block{{Height: 0, Hash: "h0"}}})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		Endpoint: srv.URL,
		Backoff:  Policy{Base: time.Millisecond, Cap: time.Millisecond},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if m.Block == nil || m.Block.Hash != "h0" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClientExhaustsRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		Endpoint: srv.URL,
		Backoff:  Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 2},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Next(ctx)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestClientStallAlarm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(blocksResponse{})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		Endpoint:     srv.URL,
		PollInterval: time.Millisecond,
		StallTimeout: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := c.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("empty source: want deadline exceeded, got %v", err)
	}
	if !c.Stalled() {
		t.Fatal("stall alarm should have fired")
	}
}
