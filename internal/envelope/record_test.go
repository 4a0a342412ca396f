package envelope

import (
	"encoding/json"
	"errors"
	"testing"
)

func validRecord() EventRecord {
	return EventRecord{
		SchemaVersion:       SchemaVersion,
		SourceTxID:          "0xA",
		LogIndex:            0,
		Sender:              "alice.near",
		Recipient:           "carol.near",
		Ciphertext:          []byte("ct"),
		Nonce:               make([]byte, NonceSize),
		EphemeralPublicKey:  make([]byte, KeySize),
		RecipientKeyVersion: 1,
	}
}

func TestParseEventValid(t *testing.T) {
	raw, _ := json.Marshal(validRecord())
	rec, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.SourceTxID != "0xA" || rec.Recipient != "carol.near" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestParseEventSchemaMismatch(t *testing.T) {
	mutate := map[string]func(*EventRecord){
		"bad version":   func(r *EventRecord) { r.SchemaVersion = 99 },
		"no tx id":      func(r *EventRecord) { r.SourceTxID = "" },
		"no sender":     func(r *EventRecord) { r.Sender = "" },
		"no recipient":  func(r *EventRecord) { r.Recipient = "" },
		"no ciphertext": func(r *EventRecord) { r.Ciphertext = nil },
		"short nonce":   func(r *EventRecord) { r.Nonce = r.Nonce[:4] },
		"short eph key": func(r *EventRecord) { r.EphemeralPublicKey = r.EphemeralPublicKey[:16] },
		"key version 0": func(r *EventRecord) { r.RecipientKeyVersion = 0 },
	}
	for name, fn := range mutate {
		rec := validRecord()
		fn(&rec)
		raw, _ := json.Marshal(rec)
		if _, err := ParseEvent(raw); !errors.Is(err, ErrSchemaMismatch) {
			t.Errorf("%s: want ErrSchemaMismatch, got %v", name, err)
		}
	}
	if _, err := ParseEvent([]byte("not json")); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("garbage input: want ErrSchemaMismatch, got %v", err)
	}
}

func TestMessageIDDistinctAcrossBranches(t *testing.T) {
	// Same tx id and log index on two competing branches must produce
	// distinct message ids, because the block hash differs.
	a := DeriveMessageID("hashA", "0xA", 0)
	b := DeriveMessageID("hashB", "0xA", 0)
	if a == b {
		t.Fatal("message ids collide across branches")
	}
	if a != DeriveMessageID("hashA", "0xA", 0) {
		t.Fatal("message id not deterministic")
	}
	if DeriveMessageID("hashA", "0xA", 0) == DeriveMessageID("hashA", "0xA", 1) {
		t.Fatal("log index not bound into message id")
	}
}

func TestCandidateCarriesProvenance(t *testing.T) {
	rec := validRecord()
	rec.Payment = &PaymentAttachment{Token: "NEAR", Amount: "1000000"}
	env := rec.Candidate(100, "hashA")
	if env.SourceBlockHeight != 100 || env.SourceTxID != "0xA" {
		t.Fatalf("provenance lost: %+v", env)
	}
	if env.Sequence != 0 {
		t.Fatal("candidate must be unsequenced")
	}
	if env.Payment == nil || env.Payment.Token != "NEAR" {
		t.Fatal("payment attachment lost")
	}
	if env.MessageID != DeriveMessageID("hashA", "0xA", 0) {
		t.Fatal("message id mismatch")
	}
}
