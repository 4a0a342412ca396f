package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mister-Yo/whisper-protocol/internal/chainstream"
	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
	"github.com/Mister-Yo/whisper-protocol/internal/msglog"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

// ErrReorgBelowFinal is fatal: the source reported a reorganization at or
// below the finalized watermark, which would invalidate already-assigned
// sequences. The pipeline halts rather than corrupt the log.
var ErrReorgBelowFinal = errors.New("ingest: reorg at or below finalized watermark")

const (
	commitAttempts   = 5
	commitRetryDelay = 100 * time.Millisecond
)

// Options configures a Pipeline.
type Options struct {
	// FinalityDepth is how many blocks must build on top of a block before
	// its events are sequenced and become visible.
	FinalityDepth uint64
	// MaxStaged is the provisional-candidate high watermark. Exceeding it
	// raises an alarm; hard backpressure lives at the source seam, since
	// draining the staging buffer itself requires observing further blocks.
	MaxStaged int

	Logger  logpkg.Logger
	Metrics Metrics
}

// stagedBlock holds one observed block's candidates until it reaches
// finality depth or is dropped by a reorg.
type stagedBlock struct {
	height     uint64
	hash       string
	candidates []envelope.Envelope
}

// Pipeline is the single consumer of a shard's event source. It parses
// records, stages them below finality depth, assigns gap-free sequences at
// finalization, and rolls staged blocks back on reorg notices. Sequences
// are assigned only at finalization, so no externally visible sequence is
// ever rolled back.
type Pipeline struct {
	source chainstream.Source
	log    *msglog.Log
	opts   Options
	logger logpkg.Logger
	met    Metrics

	state stateVar

	mu        sync.Mutex
	staged    []stagedBlock
	stagedIDs map[string]struct{}
	nStaged   int
	head      uint64
}

// New builds a pipeline over the given source and shard log. Call Run to
// start consuming.
func New(source chainstream.Source, log *msglog.Log, opts Options) *Pipeline {
	if opts.FinalityDepth == 0 {
		opts.FinalityDepth = 3
	}
	if opts.MaxStaged <= 0 {
		opts.MaxStaged = 4096
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("ingest"), logpkg.Str("shard", log.Shard()))
	}
	met := opts.Metrics
	if met == nil {
		met = NoopMetrics{}
	}
	p := &Pipeline{
		source:    source,
		log:       log,
		opts:      opts,
		logger:    logger,
		met:       met,
		stagedIDs: make(map[string]struct{}),
		head:      log.Cursor().LastFinalizedHeight,
	}
	p.state.set(StateCatchingUp)
	return p
}

// State reports the current lifecycle state.
func (p *Pipeline) State() State { return p.state.get() }

// Head is the highest block height observed from the source.
func (p *Pipeline) Head() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head
}

// StagedCandidates is the provisional candidate count (observability).
func (p *Pipeline) StagedCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nStaged
}

// Run consumes the source until ctx ends, the source closes, or a fatal
// condition halts the pipeline. A clean shutdown returns nil; the durable
// cursor always reflects the last committed finalization, so a restart
// resumes from last_finalized_height+1 with no loss and no duplicates.
func (p *Pipeline) Run(ctx context.Context) error {
	resumeFrom := p.log.Cursor().LastFinalizedHeight
	catchTarget := resumeFrom + p.opts.FinalityDepth
	p.logger.Info("pipeline starting",
		logpkg.Uint64("resume_height", resumeFrom+1),
		logpkg.Uint64("finality_depth", p.opts.FinalityDepth))

	for {
		m, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, chainstream.ErrClosed) || ctx.Err() != nil {
				return p.shutdown()
			}
			p.state.set(StateStopped)
			return fmt.Errorf("ingest: source failed: %w", err)
		}
		if err := p.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return p.shutdown()
			}
			p.state.set(StateStopped)
			p.logger.Error("pipeline halted", logpkg.Err(err))
			return err
		}
		if p.state.get() == StateCatchingUp && p.Head() > catchTarget {
			p.state.set(StateLive)
			p.logger.Info("pipeline live", logpkg.Uint64("head", p.Head()))
		}
	}
}

func (p *Pipeline) shutdown() error {
	p.state.set(StateShuttingDown)
	cur := p.log.Cursor()
	p.logger.Info("pipeline stopping",
		logpkg.Uint64("last_finalized_height", cur.LastFinalizedHeight),
		logpkg.Uint64("last_sequence", cur.LastSequence))
	p.state.set(StateStopped)
	return nil
}

func (p *Pipeline) handle(ctx context.Context, m chainstream.Message) error {
	switch {
	case m.Reorg != nil:
		return p.rollback(m.Reorg.FromHeight)
	case m.Block != nil:
		return p.handleBlock(ctx, m.Block)
	default:
		return nil
	}
}

// rollback drops staged blocks at or above fromHeight. Finalized state is
// untouchable: a reorg reaching it is fatal.
func (p *Pipeline) rollback(fromHeight uint64) error {
	if finalized := p.log.Cursor().LastFinalizedHeight; fromHeight <= finalized {
		return fmt.Errorf("%w: from_height %d, finalized %d", ErrReorgBelowFinal, fromHeight, finalized)
	}
	prev := p.state.get()
	p.state.set(StateRollingBack)

	p.mu.Lock()
	dropped := 0
	kept := p.staged[:0]
	for _, sb := range p.staged {
		if sb.height >= fromHeight {
			for _, c := range sb.candidates {
				delete(p.stagedIDs, c.MessageID)
			}
			dropped += len(sb.candidates)
			continue
		}
		kept = append(kept, sb)
	}
	p.staged = kept
	p.nStaged -= dropped
	if p.head >= fromHeight {
		p.head = fromHeight - 1
	}
	pending := p.nStaged
	p.mu.Unlock()

	p.met.ReorgRollback(dropped)
	p.met.StagedPending(pending)
	p.logger.Warn("reorg: dropped provisional candidates",
		logpkg.Uint64("from_height", fromHeight), logpkg.Int("dropped", dropped))

	if prev == StateCatchingUp {
		p.state.set(StateCatchingUp)
	} else {
		p.state.set(StateLive)
	}
	return nil
}

func (p *Pipeline) handleBlock(ctx context.Context, b *chainstream.Block) error {
	if finalized := p.log.Cursor().LastFinalizedHeight; b.Height <= finalized {
		// replay of an already-finalized height; dedup makes this a no-op
		p.logger.Debug("ignoring block at or below finalized watermark",
			logpkg.Uint64("height", b.Height), logpkg.Uint64("finalized", finalized))
		return nil
	}

	p.mu.Lock()
	cands := make([]envelope.Envelope, 0, len(b.Events))
	for i, raw := range b.Events {
		rec, err := envelope.ParseEvent(raw)
		if err != nil {
			p.met.SchemaMismatch()
			p.logger.Warn("dropping malformed event record",
				logpkg.Err(err), logpkg.Uint64("height", b.Height), logpkg.Int("log_index", i))
			continue
		}
		env := rec.Candidate(b.Height, b.Hash)
		if _, ok := p.stagedIDs[env.MessageID]; ok {
			p.met.DuplicateEvent()
			continue
		}
		if _, stored := p.log.HasMessage(env.MessageID); stored {
			p.met.DuplicateEvent()
			continue
		}
		p.stagedIDs[env.MessageID] = struct{}{}
		cands = append(cands, env)
	}
	p.staged = append(p.staged, stagedBlock{height: b.Height, hash: b.Hash, candidates: cands})
	p.nStaged += len(cands)
	if b.Height > p.head {
		p.head = b.Height
	}
	over := p.nStaged > p.opts.MaxStaged
	pending := p.nStaged
	p.mu.Unlock()

	p.met.StagedPending(pending)
	if over {
		p.logger.Warn("staging buffer over watermark",
			logpkg.Int("staged", pending), logpkg.Int("max", p.opts.MaxStaged))
	}
	return p.finalize(ctx)
}

// finalize sequences and commits every staged block that has reached
// finality depth. Envelopes, dedup index, recipient index, and cursor land
// in one batch; a failed commit retries the whole batch.
func (p *Pipeline) finalize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.head < p.opts.FinalityDepth {
		return nil
	}
	target := p.head - p.opts.FinalityDepth
	if target <= p.log.Cursor().LastFinalizedHeight {
		return nil
	}

	var cands []envelope.Envelope
	kept := make([]stagedBlock, 0, len(p.staged))
	for _, sb := range p.staged {
		if sb.height <= target {
			cands = append(cands, sb.candidates...)
			continue
		}
		kept = append(kept, sb)
	}

	// staged state is only mutated after the batch commits, so a failed
	// commit leaves the whole batch in place for the next attempt
	appended, err := p.commitRetry(ctx, target, cands)
	if err != nil {
		return err
	}

	p.staged = kept
	for _, c := range cands {
		delete(p.stagedIDs, c.MessageID)
	}
	p.nStaged -= len(cands)

	p.met.IngestedMessages(len(appended))
	p.met.FinalizedBatch(target)
	p.met.StagedPending(p.nStaged)
	if len(appended) > 0 {
		p.logger.Info("finalized batch",
			logpkg.Uint64("height", target),
			logpkg.Int("messages", len(appended)),
			logpkg.Uint64("last_sequence", appended[len(appended)-1].Sequence))
	}
	return nil
}

func (p *Pipeline) commitRetry(ctx context.Context, target uint64, cands []envelope.Envelope) ([]envelope.Envelope, error) {
	for attempt := 1; ; attempt++ {
		appended, err := p.log.AppendFinalized(ctx, target, cands)
		if err == nil {
			return appended, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= commitAttempts {
			return nil, fmt.Errorf("ingest: finalize commit failed after %d attempts: %w", attempt, err)
		}
		p.logger.Warn("finalize commit failed; retrying batch",
			logpkg.Err(err), logpkg.Int("attempt", attempt))
		time.Sleep(commitRetryDelay)
	}
}
