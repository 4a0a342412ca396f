package controllers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
	"github.com/Mister-Yo/whisper-protocol/internal/fanout"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsClientMsg is everything a client may send: a subscribe handshake or a
// flow-control ack.
type wsClientMsg struct {
	Type     string `json:"type"`
	Account  string `json:"account,omitempty"`
	Since    uint64 `json:"since,omitempty"`
	Filter   string `json:"filter,omitempty"`
	Window   int    `json:"window,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
}

type wsServerMsg struct {
	Type     string             `json:"type"`
	Envelope *envelope.Envelope `json:"envelope,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// wsSink delivers envelopes over a WebSocket connection. When the client
// negotiated a window, Send blocks once that many envelopes are unacked;
// without acks the window is unbounded and the fanout buffer absorbs
// bursts.
type wsSink struct {
	conn *websocket.Conn
	ctx  context.Context

	mu       sync.Mutex
	cond     *sync.Cond
	window   int
	inflight []uint64
}

func newWSSink(ctx context.Context, conn *websocket.Conn, window int) *wsSink {
	s := &wsSink{conn: conn, ctx: ctx, window: window}
	s.cond = sync.NewCond(&s.mu)
	// unblock any window wait when the connection goes away
	go func() {
		<-ctx.Done()
		s.cond.Broadcast()
	}()
	return s
}

func (s *wsSink) Send(e envelope.Envelope) error {
	if s.window > 0 {
		s.mu.Lock()
		for len(s.inflight) >= s.window && s.ctx.Err() == nil {
			s.cond.Wait()
		}
		if err := s.ctx.Err(); err != nil {
			s.mu.Unlock()
			return err
		}
		s.inflight = append(s.inflight, e.Sequence)
		s.mu.Unlock()
	}
	return s.conn.WriteJSON(wsServerMsg{Type: "message", Envelope: &e})
}

func (s *wsSink) ack(sequence uint64) {
	s.mu.Lock()
	kept := s.inflight[:0]
	for _, seq := range s.inflight {
		if seq > sequence {
			kept = append(kept, seq)
		}
	}
	s.inflight = kept
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *wsSink) Flush() error { return nil }

func (s *wsSink) Context() context.Context { return s.ctx }

// SubscribeWS handles GET /v1/ws. The first client frame must be a
// subscribe message; message frames then flow until either side closes.
func (c *Controller) SubscribeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sub wsClientMsg
	if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" || sub.Account == "" {
		_ = conn.WriteJSON(wsServerMsg{Type: "error", Error: "first frame must be a subscribe with an account"})
		return
	}
	if _, err := fanout.NewFilter(sub.Filter); err != nil {
		_ = conn.WriteJSON(wsServerMsg{Type: "error", Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sink := newWSSink(ctx, conn, sub.Window)

	// reader: acks adjust the window; any read error ends the subscription
	go func() {
		defer cancel()
		for {
			var m wsClientMsg
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			if m.Type == "ack" {
				sink.ack(m.Sequence)
			}
		}
	}()

	err = c.rt.Fanout().Subscribe(ctx, sub.Account, fanout.SubscribeOptions{
		SinceSeq: sub.Since,
		Filter:   sub.Filter,
	}, sink)
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("websocket subscription ended",
			logpkg.Err(err), logpkg.Str("account", sub.Account))
	}
}
