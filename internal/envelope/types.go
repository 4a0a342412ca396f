package envelope

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// PaymentAttachment carries an optional value transfer bound to a message.
// The pipeline stores it opaquely; settlement happens on chain.
type PaymentAttachment struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Envelope is an encrypted message together with its cryptographic and
// provenance metadata. Immutable once persisted; Sequence is assigned
// exactly once, at finalization.
type Envelope struct {
	MessageID           string             `json:"message_id"`
	Sender              string             `json:"sender"`
	Recipient           string             `json:"recipient"`
	Ciphertext          []byte             `json:"ciphertext"`
	Nonce               []byte             `json:"nonce"`
	EphemeralPublicKey  []byte             `json:"ephemeral_public_key"`
	RecipientKeyVersion uint32             `json:"recipient_key_version"`
	SourceBlockHeight   uint64             `json:"source_block_height"`
	SourceTxID          string             `json:"source_tx_id"`
	LogIndex            uint32             `json:"log_index"`
	IngestedAtMs        int64              `json:"ingested_at_ms"`
	Sequence            uint64             `json:"sequence"`
	Payment             *PaymentAttachment `json:"payment,omitempty"`
	ReplyTo             string             `json:"reply_to,omitempty"`
}

// DeriveMessageID builds the globally unique message id from the event's
// provenance. The block hash participates so that an event replayed on a
// competing branch after a reorg yields a distinct id.
func DeriveMessageID(blockHash, sourceTxID string, logIndex uint32) string {
	h := sha256.New()
	h.Write([]byte(blockHash))
	h.Write([]byte{0})
	h.Write([]byte(sourceTxID))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], logIndex)
	h.Write(idx[:])
	return hex.EncodeToString(h.Sum(nil))
}
