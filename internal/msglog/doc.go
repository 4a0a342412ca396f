// Package msglog implements the durable finalized-envelope log.
//
// # Overview
//
// One log exists per shard, persisted in Pebble with lexicographically
// ordered keys:
//   - sh/{shard}/cur                     (ingestion cursor JSON)
//   - sh/{shard}/e/{seq_be8}             (envelope records)
//   - sh/{shard}/id/{message_id}         (dedup index)
//   - sh/{shard}/r/{recipient}/{seq_be8} (recipient index)
//
// Records are stored as varint payloadLen | payload | crc32c(payload).
//
// AppendFinalized assigns sequences and writes entries, both indexes, and
// the cursor in a single atomic batch: after a crash either the whole batch
// is visible together with its checkpoint, or none of it is. Open verifies
// the checkpoint against the log tail and refuses to start on divergence
// (ErrCorrupt).
//
// Duplicate message ids are skipped inside AppendFinalized, making
// ingestion idempotent under stream replays.
package msglog
