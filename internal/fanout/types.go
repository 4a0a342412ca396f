package fanout

import (
	"context"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
)

// Sink is a subscriber transport (SSE connection, WebSocket, test buffer).
// Send and Flush are called from a single writer goroutine per subscriber;
// a Sink never needs to be safe for concurrent use. When Context ends the
// subscription winds down without affecting other subscribers.
type Sink interface {
	Send(e envelope.Envelope) error
	Flush() error
	Context() context.Context
}

// SubscribeOptions controls one subscription.
type SubscribeOptions struct {
	// SinceSeq resumes delivery strictly after this sequence. Zero starts
	// from the beginning of the recipient's timeline.
	SinceSeq uint64
	// Filter is an optional CEL expression; see Filter for the variables.
	Filter string
	// Limit stops the subscription after this many deliveries. Zero means
	// unbounded.
	Limit int
}

// Metrics receives delivery observations.
type Metrics interface {
	// PushedMessages counts envelopes handed to subscriber sinks.
	PushedMessages(n int)
	// Subscribers reports the current live subscription count.
	Subscribers(n int)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) PushedMessages(int) {}
func (NoopMetrics) Subscribers(int)    {}
