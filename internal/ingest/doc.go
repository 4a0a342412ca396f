// Package ingest runs the per-shard ingestion pipeline: it consumes the
// ordered chainstream source, validates event records, stages candidates
// below finality depth in memory, and commits finalized batches to the
// message log with gap-free sequences.
//
// Sequencing happens strictly at finalization. Provisional candidates are
// never visible to readers, so a reorg rollback only discards memory; the
// durable log and its sequence counter are append-only. A reorg notice at
// or below the finalized watermark halts the pipeline: finalized sequences
// cannot be rolled back.
package ingest
