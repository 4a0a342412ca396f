package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
	"github.com/Mister-Yo/whisper-protocol/internal/fanout"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

// Messages handles GET /v1/messages?account=&since=&limit=&filter=.
func (c *Controller) Messages(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	since, ok := queryUint(r, "since")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad since")
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad limit")
		return
	}
	msgs, err := c.rt.Fanout().Query(r.Context(), account, since, limit, r.URL.Query().Get("filter"))
	if err != nil {
		// a failed filter compile is the only client-visible query error
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"messages": msgs})
}

// sseSink streams envelopes as Server-Sent Events.
type sseSink struct {
	w http.ResponseWriter
	r *http.Request
}

func (s sseSink) Send(e envelope.Envelope) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	_, err = s.w.Write([]byte("\n\n"))
	return err
}

func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (s sseSink) Context() context.Context { return s.r.Context() }

// SubscribeSSE handles GET /v1/messages/subscribe?account=&since=&filter=.
// The stream runs until the client disconnects.
func (c *Controller) SubscribeSSE(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	since, ok := queryUint(r, "since")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad since")
		return
	}
	filter := r.URL.Query().Get("filter")
	if _, err := fanout.NewFilter(filter); err != nil {
		// reject before committing to the event stream
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	err := c.rt.Fanout().Subscribe(r.Context(), account, fanout.SubscribeOptions{
		SinceSeq: since,
		Filter:   filter,
	}, sseSink{w: w, r: r})
	if err != nil && r.Context().Err() == nil {
		c.logger.Warn("sse subscription ended", logpkg.Err(err), logpkg.Str("account", account))
	}
}
