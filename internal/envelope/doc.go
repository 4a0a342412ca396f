// Package envelope defines the message data model and the envelope
// cryptography protocol.
//
// An envelope is sealed with X25519 ECDH against the recipient's registered
// public key: a fresh ephemeral key pair per message, HKDF-SHA256 key
// derivation, and AES-256-GCM with the sender/recipient handles as
// additional authenticated data. The embedded ephemeral public key and
// recipient key version make decryption independent of which key is
// "current" at read time, so key rotation never invalidates old messages.
//
// The package also owns the event record schema consumed from the chain
// event source and its validation (ErrSchemaMismatch).
package envelope
