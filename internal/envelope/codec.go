package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the X25519 key length.
	KeySize = 32
	// NonceSize is the AES-GCM nonce length (96 bits).
	NonceSize = 12
)

// hkdfInfo separates envelope key derivation from any other use of the
// same shared secret.
var hkdfInfo = []byte("whisper envelope v1")

// ErrCryptoFailure is the single opaque decryption error. Callers never
// learn whether the tag, nonce, or AAD failed.
var ErrCryptoFailure = errors.New("envelope: decryption failed")

// Sealed is the cryptographic output of Encrypt: everything a recipient
// needs besides their private key.
type Sealed struct {
	Ciphertext         []byte
	Nonce              []byte
	EphemeralPublicKey []byte
}

// GenerateKeyPair returns a fresh X25519 (public, private) pair.
func GenerateKeyPair() (pub, priv []byte, err error) {
	priv = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Encrypt seals plaintext to the recipient's public key. A fresh ephemeral
// key pair and nonce are generated per call, so encryption is never
// deterministic. The sender and recipient handles are bound as additional
// authenticated data, which prevents replaying an envelope to a different
// recipient.
func Encrypt(plaintext, recipientPub []byte, sender, recipient string) (Sealed, error) {
	if len(recipientPub) != KeySize {
		return Sealed{}, fmt.Errorf("envelope: recipient public key must be %d bytes", KeySize)
	}
	ephPub, ephPriv, err := GenerateKeyPair()
	if err != nil {
		return Sealed{}, err
	}
	gcm, err := deriveAEAD(ephPriv, recipientPub)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, err
	}
	ct := gcm.Seal(nil, nonce, plaintext, aad(sender, recipient))
	return Sealed{Ciphertext: ct, Nonce: nonce, EphemeralPublicKey: ephPub}, nil
}

// Decrypt opens a sealed envelope with the recipient's private key. It is
// deterministic and has no side effects. All failure modes collapse into
// ErrCryptoFailure.
func Decrypt(s Sealed, recipientPriv []byte, sender, recipient string) ([]byte, error) {
	if len(recipientPriv) != KeySize || len(s.EphemeralPublicKey) != KeySize || len(s.Nonce) != NonceSize {
		return nil, ErrCryptoFailure
	}
	gcm, err := deriveAEAD(recipientPriv, s.EphemeralPublicKey)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	pt, err := gcm.Open(nil, s.Nonce, s.Ciphertext, aad(sender, recipient))
	if err != nil {
		return nil, ErrCryptoFailure
	}
	return pt, nil
}

// deriveAEAD runs X25519 between the private and public halves and expands
// the shared secret into an AES-256-GCM instance via HKDF-SHA256.
func deriveAEAD(priv, pub []byte) (cipher.AEAD, error) {
	shared, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// aad binds the sender and recipient handles, NUL-separated to keep the
// encoding unambiguous.
func aad(sender, recipient string) []byte {
	b := make([]byte, 0, len(sender)+len(recipient)+1)
	b = append(b, sender...)
	b = append(b, 0)
	b = append(b, recipient...)
	return b
}
