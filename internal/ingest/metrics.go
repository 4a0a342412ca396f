package ingest

// Metrics receives pipeline observations. Implementations must be cheap and
// must not block the ingest loop.
type Metrics interface {
	// IngestedMessages is called after a finalized batch commits, with the
	// number of envelopes that received sequences.
	IngestedMessages(n int)
	// DuplicateEvent is called when an event's message_id is already staged
	// or stored.
	DuplicateEvent()
	// SchemaMismatch is called when a raw event record fails to parse.
	SchemaMismatch()
	// ReorgRollback is called with the number of provisional candidates
	// dropped by a reorg notice.
	ReorgRollback(dropped int)
	// FinalizedBatch is called after the cursor advances to height.
	FinalizedBatch(height uint64)
	// StagedPending reports the current provisional candidate count.
	StagedPending(n int)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) IngestedMessages(int)  {}
func (NoopMetrics) DuplicateEvent()       {}
func (NoopMetrics) SchemaMismatch()       {}
func (NoopMetrics) ReorgRollback(int)     {}
func (NoopMetrics) FinalizedBatch(uint64) {}
func (NoopMetrics) StagedPending(int)     {}
