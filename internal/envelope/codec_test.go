package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	for _, msg := range []string{"", "hi", "a longer plaintext with some structure {}"} {
		sealed, err := Encrypt([]byte(msg), pub, "alice.near", "bob.near")
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := Decrypt(sealed, priv, "alice.near", "bob.near")
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if string(got) != msg {
			t.Fatalf("round trip mismatch: %q != %q", got, msg)
		}
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	pub, _, _ := GenerateKeyPair()
	a, _ := Encrypt([]byte("same"), pub, "a", "b")
	b, _ := Encrypt([]byte("same"), pub, "a", "b")
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Fatal("two encryptions produced identical ciphertext")
	}
	if bytes.Equal(a.EphemeralPublicKey, b.EphemeralPublicKey) {
		t.Fatal("ephemeral key reused across encryptions")
	}
}

func TestTamperRejection(t *testing.T) {
	pub, priv, _ := GenerateKeyPair()
	sealed, err := Encrypt([]byte("secret"), pub, "alice.near", "bob.near")
	if err != nil {
		t.Fatal(err)
	}

	flip := func(b []byte, i int) []byte {
		out := append([]byte(nil), b...)
		out[i] ^= 0x01
		return out
	}

	cases := []struct {
		name   string
		sealed Sealed
		sender string
		rcpt   string
	}{
		{"ciphertext bit", Sealed{flip(sealed.Ciphertext, 0), sealed.Nonce, sealed.EphemeralPublicKey}, "alice.near", "bob.near"},
		{"tag bit", Sealed{flip(sealed.Ciphertext, len(sealed.Ciphertext)-1), sealed.Nonce, sealed.EphemeralPublicKey}, "alice.near", "bob.near"},
		{"nonce bit", Sealed{sealed.Ciphertext, flip(sealed.Nonce, 3), sealed.EphemeralPublicKey}, "alice.near", "bob.near"},
		{"ephemeral key bit", Sealed{sealed.Ciphertext, sealed.Nonce, flip(sealed.EphemeralPublicKey, 7)}, "alice.near", "bob.near"},
		{"wrong sender aad", sealed, "mallory.near", "bob.near"},
		{"wrong recipient aad", sealed, "alice.near", "carol.near"},
		{"truncated nonce", Sealed{sealed.Ciphertext, sealed.Nonce[:8], sealed.EphemeralPublicKey}, "alice.near", "bob.near"},
	}
	for _, tc := range cases {
		if _, err := Decrypt(tc.sealed, priv, tc.sender, tc.rcpt); !errors.Is(err, ErrCryptoFailure) {
			t.Errorf("%s: want ErrCryptoFailure, got %v", tc.name, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	pub, _, _ := GenerateKeyPair()
	_, otherPriv, _ := GenerateKeyPair()
	sealed, _ := Encrypt([]byte("secret"), pub, "a", "b")
	if _, err := Decrypt(sealed, otherPriv, "a", "b"); !errors.Is(err, ErrCryptoFailure) {
		t.Fatalf("want ErrCryptoFailure, got %v", err)
	}
}

func TestRotationSafeDecrypt(t *testing.T) {
	// Messages sealed to key version 1 stay readable after rotation to
	// version 2, as long as the old private key is retained.
	pubV1, privV1, _ := GenerateKeyPair()
	sealed, _ := Encrypt([]byte("old message"), pubV1, "a", "b")

	// rotate
	pubV2, privV2, _ := GenerateKeyPair()
	_ = pubV2

	if _, err := Decrypt(sealed, privV2, "a", "b"); !errors.Is(err, ErrCryptoFailure) {
		t.Fatalf("new key must not open old envelope: %v", err)
	}
	got, err := Decrypt(sealed, privV1, "a", "b")
	if err != nil || string(got) != "old message" {
		t.Fatalf("old key must still open old envelope: %q %v", got, err)
	}
}
