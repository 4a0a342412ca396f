// Package runtime assembles a single-node relay: Pebble storage, the key
// registry, the per-shard message log, the ingestion pipeline, and the
// delivery fanout, with one shared metrics set.
package runtime
