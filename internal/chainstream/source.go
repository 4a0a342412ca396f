package chainstream

import (
	"context"
	"sync"
)

// Source is an ordered, possibly reorganizing stream of blocks. Ordering
// within a source is the contract: the consumer never reorders messages.
type Source interface {
	// Next blocks until a message is available, ctx is cancelled, or the
	// source fails. Transient failures are retried internally; Next only
	// returns an error when the source is closed or ctx ends.
	Next(ctx context.Context) (Message, error)
}

// ChanSource is a bounded channel-backed Source. The producer blocks when
// the consumer lags by more than the buffer: this is the backpressure seam
// between the source adapter and the single-consumer pipeline loop.
type ChanSource struct {
	ch   chan Message
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewChanSource returns a ChanSource with the given buffer.
func NewChanSource(buffer int) *ChanSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSource{ch: make(chan Message, buffer), done: make(chan struct{})}
}

// Push enqueues a message, blocking while the buffer is full. A Push racing
// or following Close returns ErrClosed; the message channel itself is never
// closed, so a late producer can never panic.
func (s *ChanSource) Push(ctx context.Context, m Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.ch <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushBlock is a convenience for tests and adapters.
func (s *ChanSource) PushBlock(ctx context.Context, b Block) error {
	return s.Push(ctx, Message{Block: &b})
}

// PushReorg is a convenience for tests and adapters.
func (s *ChanSource) PushReorg(ctx context.Context, fromHeight uint64) error {
	return s.Push(ctx, Message{Reorg: &Reorg{FromHeight: fromHeight}})
}

// Close marks the source finished; pending messages still drain.
func (s *ChanSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// Next implements Source. Messages buffered before Close drain first;
// ErrClosed follows.
func (s *ChanSource) Next(ctx context.Context) (Message, error) {
	select {
	case m := <-s.ch:
		return m, nil
	default:
	}
	select {
	case m := <-s.ch:
		return m, nil
	case <-s.done:
		select {
		case m := <-s.ch:
			return m, nil
		default:
			return Message{}, ErrClosed
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
