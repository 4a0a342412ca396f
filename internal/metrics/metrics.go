package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Set holds the relay's Prometheus collectors and implements the metric
// hooks of the storage, ingest, and fanout layers. One Set is shared by
// all components and registered once at startup.
type Set struct {
	ingestedTotal       prometheus.Counter
	duplicatesTotal     prometheus.Counter
	schemaMismatchTotal prometheus.Counter
	reorgsTotal         prometheus.Counter
	reorgDroppedTotal   prometheus.Counter
	finalizedHeight     prometheus.Gauge
	stagedPending       prometheus.Gauge

	pushedTotal prometheus.Counter
	subscribers prometheus.Gauge

	storeReadSeconds   prometheus.Histogram
	storeCommitSeconds prometheus.Histogram
	storeCommitBytes   prometheus.Counter

	registry *prometheus.Registry
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "whisper",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newHistogram(subsystem, name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "whisper",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
}

// New builds and registers the collector set on its own registry, together
// with the standard Go and process collectors.
func New() *Set {
	s := &Set{
		ingestedTotal:       newCounter("ingest", "messages_total", "Envelopes sequenced and committed."),
		duplicatesTotal:     newCounter("ingest", "duplicates_total", "Events skipped because their message_id was already staged or stored."),
		schemaMismatchTotal: newCounter("ingest", "schema_mismatch_total", "Event records dropped as malformed or unsupported."),
		reorgsTotal:         newCounter("ingest", "reorgs_total", "Reorg notices applied to the staging buffer."),
		reorgDroppedTotal:   newCounter("ingest", "reorg_dropped_total", "Provisional candidates discarded by reorgs."),
		finalizedHeight:     newGauge("ingest", "finalized_height", "Last finalized block height."),
		stagedPending:       newGauge("ingest", "staged_pending", "Provisional candidates currently below finality depth."),
		pushedTotal:         newCounter("fanout", "pushed_total", "Envelopes handed to subscriber sinks."),
		subscribers:         newGauge("fanout", "subscribers", "Live push subscriptions."),
		storeReadSeconds:    newHistogram("store", "read_seconds", "Point read latency."),
		storeCommitSeconds:  newHistogram("store", "commit_seconds", "Batch commit latency."),
		storeCommitBytes:    newCounter("store", "commit_bytes_total", "Bytes committed in batches."),
		registry:            prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		s.ingestedTotal, s.duplicatesTotal, s.schemaMismatchTotal,
		s.reorgsTotal, s.reorgDroppedTotal, s.finalizedHeight, s.stagedPending,
		s.pushedTotal, s.subscribers,
		s.storeReadSeconds, s.storeCommitSeconds, s.storeCommitBytes,
	)
	return s
}

// Registry exposes the underlying registry for the /metrics handler.
func (s *Set) Registry() *prometheus.Registry { return s.registry }

// ingest.Metrics

func (s *Set) IngestedMessages(n int) { s.ingestedTotal.Add(float64(n)) }
func (s *Set) DuplicateEvent()        { s.duplicatesTotal.Inc() }
func (s *Set) SchemaMismatch()        { s.schemaMismatchTotal.Inc() }

func (s *Set) ReorgRollback(dropped int) {
	s.reorgsTotal.Inc()
	s.reorgDroppedTotal.Add(float64(dropped))
}

func (s *Set) FinalizedBatch(height uint64) { s.finalizedHeight.Set(float64(height)) }
func (s *Set) StagedPending(n int)          { s.stagedPending.Set(float64(n)) }

// fanout.Metrics

func (s *Set) PushedMessages(n int) { s.pushedTotal.Add(float64(n)) }
func (s *Set) Subscribers(n int)    { s.subscribers.Set(float64(n)) }

// pebblestore.MetricsHook

func (s *Set) ObserveRead(elapsed time.Duration, _ int) {
	s.storeReadSeconds.Observe(elapsed.Seconds())
}

func (s *Set) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	s.storeCommitSeconds.Observe(elapsed.Seconds())
	s.storeCommitBytes.Add(float64(bytes))
}
