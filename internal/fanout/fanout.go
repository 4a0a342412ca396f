package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
	"github.com/Mister-Yo/whisper-protocol/internal/msglog"
	"github.com/Mister-Yo/whisper-protocol/pkg/id"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

const (
	readBatch       = 128
	appendWaitSlice = 50 * time.Millisecond
)

// Options configures a delivery Service.
type Options struct {
	// SubscriberBuffer is the per-subscriber writer channel capacity.
	// Larger values absorb bursts for slow transports.
	SubscriberBuffer int
	// QueryMaxLimit caps the page size of a pull query.
	QueryMaxLimit int

	Logger  logpkg.Logger
	Metrics Metrics
}

// Service fans finalized envelopes out to pull queries and push
// subscriptions over a shard's message log. Every subscriber runs its own
// read loop with its own cursor: subscriptions are fully independent and a
// slow or dropped sink never affects other subscribers or ingestion.
type Service struct {
	log    *msglog.Log
	logger logpkg.Logger
	met    Metrics
	subBuf int
	qMax   int

	ids *id.Generator

	mu   sync.Mutex
	subs int
}

// New builds a Service over the shard log.
func New(log *msglog.Log, opts Options) *Service {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 1024
	}
	if opts.QueryMaxLimit <= 0 {
		opts.QueryMaxLimit = 1000
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("fanout"))
	}
	met := opts.Metrics
	if met == nil {
		met = NoopMetrics{}
	}
	return &Service{log: log, logger: logger, met: met, ids: id.NewGenerator(), subBuf: opts.SubscriberBuffer, qMax: opts.QueryMaxLimit}
}

// ActiveSubscribers reports the live subscription count.
func (s *Service) ActiveSubscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs
}

// Query returns up to limit finalized envelopes for account with sequence
// strictly greater than sinceSeq, ascending. It is finite and restartable:
// a caller resumes by passing the last sequence it saw.
func (s *Service) Query(ctx context.Context, account string, sinceSeq uint64, limit int, filterExpr string) ([]envelope.Envelope, error) {
	filter, err := NewFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.qMax {
		limit = s.qMax
	}

	out := make([]envelope.Envelope, 0, limit)
	cursor := sinceSeq
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := s.log.ReadRecipient(account, cursor, readBatch)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			if filter.Eval(m) {
				out = append(out, m)
				if len(out) == limit {
					break
				}
			}
		}
		cursor = msgs[len(msgs)-1].Sequence
	}
	return out, nil
}

// Subscribe streams account's envelopes to sink from opts.SinceSeq onward,
// in sequence order, until the sink's context or ctx ends. Delivery within
// one connection is exactly-once and gap-free; across a reconnect the
// caller re-queries from its last seen sequence, so the seam is
// at-least-once and duplicates are filterable by message_id.
func (s *Service) Subscribe(ctx context.Context, account string, opts SubscribeOptions, sink Sink) error {
	filter, err := NewFilter(opts.Filter)
	if err != nil {
		return err
	}

	subID := s.ids.Next()
	s.mu.Lock()
	s.subs++
	s.met.Subscribers(s.subs)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.subs--
		s.met.Subscribers(s.subs)
		s.mu.Unlock()
		s.logger.Debug("subscriber detached", logpkg.Str("sub", subID.String()))
	}()
	s.logger.Debug("subscriber attached", logpkg.Str("sub", subID.String()),
		logpkg.Str("account", account), logpkg.Uint64("since", opts.SinceSeq))

	// per-subscriber writer decouples the read loop from a slow transport
	outCh := make(chan envelope.Envelope, s.subBuf)
	writerDone := make(chan struct{})
	var sendErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(writerDone)
		for {
			select {
			case m, ok := <-outCh:
				if !ok {
					_ = sink.Flush()
					return
				}
				if err := sink.Send(m); err != nil {
					sendErr = err
					return
				}
				s.met.PushedMessages(1)
				if len(outCh) == 0 {
					_ = sink.Flush()
				}
			case <-sink.Context().Done():
				return
			}
		}
	}()
	defer func() { close(outCh); wg.Wait() }()

	cursor := opts.SinceSeq
	delivered := 0
	for {
		if err := sink.Context().Err(); err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-writerDone:
			return sendErr
		default:
		}

		msgs, err := s.log.ReadRecipient(account, cursor, readBatch)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			s.log.WaitForAppend(sink.Context(), appendWaitSlice)
			continue
		}
		for _, m := range msgs {
			if !filter.Eval(m) {
				continue
			}
			select {
			case outCh <- m:
			case <-sink.Context().Done():
				return nil
			case <-writerDone:
				return sendErr
			case <-ctx.Done():
				return ctx.Err()
			}
			delivered++
			if opts.Limit > 0 && delivered >= opts.Limit {
				return nil
			}
		}
		cursor = msgs[len(msgs)-1].Sequence
	}
}
