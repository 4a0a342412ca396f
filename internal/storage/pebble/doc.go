// Package pebblestore wraps Pebble with the durability policy used by the
// whisper relay: every finalized ingestion batch must reach the WAL before
// the checkpoint is considered committed, so the default server mode is
// FsyncModeAlways. FsyncModeInterval trades a small group-commit window for
// throughput and is acceptable for read-mostly deployments.
package pebblestore
