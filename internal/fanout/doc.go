// Package fanout delivers finalized envelopes to readers: finite pull
// queries over the recipient index and long-lived push subscriptions that
// block on log append notifications. Both paths accept an optional CEL
// filter expression.
//
// The pull/push seam is at-least-once: a client that queries history and
// then subscribes from its last sequence may see an envelope on both
// paths, and deduplicates by message_id.
package fanout
