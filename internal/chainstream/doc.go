// Package chainstream defines the event-source contract consumed by the
// ingestion pipeline: an ordered stream of blocks carrying raw message
// events, interleaved with reorg notices for not-yet-final heights.
//
// The HTTP Client adapter polls an indexer endpoint with bounded
// exponential backoff and raises a liveness alarm (not an error) when the
// source stalls. ChanSource is the bounded in-process adapter used by tests
// and embedders; its full buffer is the backpressure point between producer
// and pipeline.
package chainstream
