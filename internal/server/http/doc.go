// Package httpserver exposes the relay's public HTTP API: key registry and
// group endpoints, the message pull query, SSE and WebSocket push
// subscriptions, health, stats, and Prometheus metrics.
package httpserver
