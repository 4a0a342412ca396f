package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is the event record schema this relay understands.
const SchemaVersion = 1

// ErrSchemaMismatch marks an event record that is malformed or carries an
// unsupported schema version. Such records are dropped and counted; the
// stream continues.
var ErrSchemaMismatch = errors.New("envelope: event record schema mismatch")

// EventRecord is the wire form of a message event as emitted by the chain
// contract and consumed from the event source.
type EventRecord struct {
	SchemaVersion       int                `json:"schema_version"`
	SourceTxID          string             `json:"source_tx_id"`
	LogIndex            uint32             `json:"log_index"`
	Sender              string             `json:"sender"`
	Recipient           string             `json:"recipient"`
	Ciphertext          []byte             `json:"ciphertext"`
	Nonce               []byte             `json:"nonce"`
	EphemeralPublicKey  []byte             `json:"ephemeral_public_key"`
	RecipientKeyVersion uint32             `json:"recipient_key_version"`
	Payment             *PaymentAttachment `json:"payment,omitempty"`
	ReplyTo             string             `json:"reply_to,omitempty"`
}

// ParseEvent decodes and validates a raw event record. Every failure is
// reported as ErrSchemaMismatch with a diagnostic wrapped in.
func ParseEvent(raw []byte) (EventRecord, error) {
	var rec EventRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return EventRecord{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := rec.Validate(); err != nil {
		return EventRecord{}, err
	}
	return rec, nil
}

// Validate checks structural requirements of the record.
func (r EventRecord) Validate() error {
	switch {
	case r.SchemaVersion != SchemaVersion:
		return fmt.Errorf("%w: unsupported schema_version %d", ErrSchemaMismatch, r.SchemaVersion)
	case r.SourceTxID == "":
		return fmt.Errorf("%w: empty source_tx_id", ErrSchemaMismatch)
	case r.Sender == "":
		return fmt.Errorf("%w: empty sender", ErrSchemaMismatch)
	case r.Recipient == "":
		return fmt.Errorf("%w: empty recipient", ErrSchemaMismatch)
	case len(r.Ciphertext) == 0:
		return fmt.Errorf("%w: empty ciphertext", ErrSchemaMismatch)
	case len(r.Nonce) != NonceSize:
		return fmt.Errorf("%w: nonce must be %d bytes", ErrSchemaMismatch, NonceSize)
	case len(r.EphemeralPublicKey) != KeySize:
		return fmt.Errorf("%w: ephemeral key must be %d bytes", ErrSchemaMismatch, KeySize)
	case r.RecipientKeyVersion == 0:
		return fmt.Errorf("%w: recipient_key_version must be >= 1", ErrSchemaMismatch)
	}
	return nil
}

// Candidate builds the unsequenced envelope for a record observed in the
// given block. Sequence and IngestedAtMs are assigned at finalization.
func (r EventRecord) Candidate(blockHeight uint64, blockHash string) Envelope {
	return Envelope{
		MessageID:           DeriveMessageID(blockHash, r.SourceTxID, r.LogIndex),
		Sender:              r.Sender,
		Recipient:           r.Recipient,
		Ciphertext:          r.Ciphertext,
		Nonce:               r.Nonce,
		EphemeralPublicKey:  r.EphemeralPublicKey,
		RecipientKeyVersion: r.RecipientKeyVersion,
		SourceBlockHeight:   blockHeight,
		SourceTxID:          r.SourceTxID,
		LogIndex:            r.LogIndex,
		Payment:             r.Payment,
		ReplyTo:             r.ReplyTo,
	}
}
