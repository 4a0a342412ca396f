// Package serverrun boots the relay: runtime, ingestion pipeline, HTTP API,
// and the gRPC health service, with signal-aware shutdown.
package serverrun
