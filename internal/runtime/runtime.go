package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mister-Yo/whisper-protocol/internal/chainstream"
	cfgpkg "github.com/Mister-Yo/whisper-protocol/internal/config"
	"github.com/Mister-Yo/whisper-protocol/internal/fanout"
	"github.com/Mister-Yo/whisper-protocol/internal/ingest"
	"github.com/Mister-Yo/whisper-protocol/internal/metrics"
	"github.com/Mister-Yo/whisper-protocol/internal/msglog"
	"github.com/Mister-Yo/whisper-protocol/internal/registry"
	pebblestore "github.com/Mister-Yo/whisper-protocol/internal/storage/pebble"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage, the key registry, the shard message log, and the
// delivery service for a single-node instance. The ingestion pipeline is
// started separately so embedders and tests can supply their own source.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *metrics.Set

	registry *registry.Registry
	log      *msglog.Log
	fanout   *fanout.Service

	pipeline *ingest.Pipeline
	stalled  func() bool
	ingestCh chan error
}

// Open initializes storage and the core services.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("runtime"))
	}
	met := metrics.New()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       met,
	})
	if err != nil {
		return nil, err
	}
	l, err := msglog.Open(db, opts.Config.Shard)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rt := &Runtime{
		db:       db,
		config:   opts.Config,
		logger:   logger,
		metrics:  met,
		registry: registry.New(db),
		log:      l,
		fanout: fanout.New(l, fanout.Options{
			SubscriberBuffer: opts.Config.Fanout.SubscriberBuffer,
			QueryMaxLimit:    opts.Config.Fanout.QueryMaxLimit,
			Logger:           logger.With(logpkg.Component("fanout")),
			Metrics:          met,
		}),
	}
	return rt, nil
}

// StartIngest runs the pipeline over source until ctx ends. The returned
// channel receives Run's result exactly once.
func (r *Runtime) StartIngest(ctx context.Context, source chainstream.Source) <-chan error {
	r.pipeline = ingest.New(source, r.log, ingest.Options{
		FinalityDepth: r.config.Ingest.FinalityDepth,
		MaxStaged:     r.config.Ingest.MaxStaged,
		Logger:        r.logger.With(logpkg.Component("ingest"), logpkg.Str("shard", r.config.Shard)),
		Metrics:       r.metrics,
	})
	if c, ok := source.(*chainstream.Client); ok {
		r.stalled = c.Stalled
	}
	r.ingestCh = make(chan error, 1)
	go func() { r.ingestCh <- r.pipeline.Run(ctx) }()
	return r.ingestCh
}

// NewSourceClient builds the HTTP polling source from configuration,
// resuming from the durable cursor.
func (r *Runtime) NewSourceClient() *chainstream.Client {
	src := r.config.Source
	return chainstream.NewClient(chainstream.ClientOptions{
		Endpoint:     src.Endpoint,
		FromHeight:   r.log.Cursor().LastFinalizedHeight + 1,
		PollInterval: time.Duration(src.PollIntervalMs) * time.Millisecond,
		StallTimeout: time.Duration(src.StallTimeoutMs) * time.Millisecond,
		Backoff: chainstream.Policy{
			Base:        time.Duration(src.Backoff.BaseMs) * time.Millisecond,
			Cap:         time.Duration(src.Backoff.CapMs) * time.Millisecond,
			Factor:      src.Backoff.Factor,
			MaxAttempts: src.Backoff.MaxAttempts,
		},
		Logger: r.logger.With(logpkg.Component("chainstream")),
	})
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth reports whether the node can serve: storage must answer and
// the pipeline, when started, must not have halted or lost its source.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	if r.pipeline != nil && r.pipeline.State() == ingest.StateStopped {
		return errors.New("ingest pipeline stopped")
	}
	if r.stalled != nil && r.stalled() {
		return errors.New("event source stalled")
	}
	return ctx.Err()
}

// Stats is the point-in-time operational summary served by the stats API.
type Stats struct {
	Profiles            uint64 `json:"profiles"`
	Groups              uint64 `json:"groups"`
	Messages            uint64 `json:"messages"`
	LastFinalizedHeight uint64 `json:"last_finalized_height"`
	LastSequence        uint64 `json:"last_sequence"`
	Subscribers         int    `json:"subscribers"`
	PipelineState       string `json:"pipeline_state"`
}

// Stats gathers counters from the registry, log, and delivery service.
func (r *Runtime) Stats() Stats {
	cur := r.log.Cursor()
	st := Stats{
		Profiles:            r.registry.ProfileCount(),
		Groups:              r.registry.GroupCount(),
		Messages:            cur.LastSequence,
		LastFinalizedHeight: cur.LastFinalizedHeight,
		LastSequence:        cur.LastSequence,
		Subscribers:         r.fanout.ActiveSubscribers(),
		PipelineState:       "not_started",
	}
	if r.pipeline != nil {
		st.PipelineState = r.pipeline.State().String()
	}
	return st
}

// Registry returns the key registry.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Log returns the shard message log.
func (r *Runtime) Log() *msglog.Log { return r.log }

// Fanout returns the delivery service.
func (r *Runtime) Fanout() *fanout.Service { return r.fanout }

// Metrics returns the collector set for the metrics handler.
func (r *Runtime) Metrics() *metrics.Set { return r.metrics }

// Pipeline returns the ingestion pipeline, nil before StartIngest.
func (r *Runtime) Pipeline() *ingest.Pipeline { return r.pipeline }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// DB exposes the underlying store (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// String implements fmt.Stringer for startup logging.
func (r *Runtime) String() string {
	cur := r.log.Cursor()
	return fmt.Sprintf("shard=%s finalized=%d seq=%d", r.config.Shard, cur.LastFinalizedHeight, cur.LastSequence)
}
