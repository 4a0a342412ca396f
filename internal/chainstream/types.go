package chainstream

import (
	"encoding/json"
	"errors"
)

var (
	// ErrUnavailable marks transient source failures (network, RPC). The
	// client retries these with bounded backoff; committed state is never
	// dropped.
	ErrUnavailable = errors.New("chainstream: source unavailable")
	// ErrClosed is returned by Next after the source is closed.
	ErrClosed = errors.New("chainstream: source closed")
)

// Block is one observed block with its message-event records. Records stay
// raw here; schema validation happens in the ingestion pipeline so a
// malformed record never poisons the block around it.
type Block struct {
	Height uint64            `json:"height"`
	Hash   string            `json:"hash"`
	Events []json.RawMessage `json:"events"`
}

// Reorg reports that previously seen, not-yet-finalized blocks at or above
// FromHeight were superseded by a competing branch. Replacement blocks
// arrive as ordinary Block messages afterwards.
type Reorg struct {
	FromHeight uint64 `json:"from_height"`
}

// Message is a single item from the event source: exactly one of Block or
// Reorg is set.
type Message struct {
	Block *Block
	Reorg *Reorg
}
