package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// captureStdout runs fn and returns what it printed.
func captureStdout(t *testing.T, fn func() error) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	if runErr != nil {
		t.Fatalf("command: %v", runErr)
	}
	return buf.String()
}

func TestKeyRegisterCommand(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/registry/register" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"account": gotBody["account"], "version": 1})
	}))
	defer srv.Close()

	cmd := NewKeyCommand(func() string { return srv.URL })
	cmd.SetArgs([]string{"register",
		"--account", "alice.near",
		"--public-key", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		"--display-name", "Alice"})

	out := captureStdout(t, cmd.Execute)
	if gotBody["account"] != "alice.near" {
		t.Fatalf("request body: %+v", gotBody)
	}
	if !strings.Contains(out, `"version": 1`) {
		t.Fatalf("output: %s", out)
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no key registered for account"})
	}))
	defer srv.Close()

	cmd := NewKeyCommand(func() string { return srv.URL })
	cmd.SetArgs([]string{"lookup", "--account", "ghost.near"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "no key registered") {
		t.Fatalf("want API error message, got %v", err)
	}
}

func TestCryptoRoundTripCommands(t *testing.T) {
	keygen := NewCryptoCommand()
	keygen.SetArgs([]string{"keygen"})
	keysOut := captureStdout(t, keygen.Execute)
	var keys struct {
		PublicKey  string `json:"public_key"`
		PrivateKey string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(keysOut), &keys); err != nil {
		t.Fatalf("keygen output: %v\n%s", err, keysOut)
	}

	encrypt := NewCryptoCommand()
	encrypt.SetArgs([]string{"encrypt",
		"--sender", "alice.near",
		"--recipient", "bob.near",
		"--recipient-key", keys.PublicKey,
		"--plaintext", "hello bob"})
	sealedOut := captureStdout(t, encrypt.Execute)
	var sealed struct {
		Ciphertext         string `json:"ciphertext"`
		Nonce              string `json:"nonce"`
		EphemeralPublicKey string `json:"ephemeral_public_key"`
	}
	if err := json.Unmarshal([]byte(sealedOut), &sealed); err != nil {
		t.Fatalf("encrypt output: %v\n%s", err, sealedOut)
	}

	decrypt := NewCryptoCommand()
	decrypt.SetArgs([]string{"decrypt",
		"--sender", "alice.near",
		"--recipient", "bob.near",
		"--private-key", keys.PrivateKey,
		"--ciphertext", sealed.Ciphertext,
		"--nonce", sealed.Nonce,
		"--ephemeral-key", sealed.EphemeralPublicKey})
	plain := captureStdout(t, decrypt.Execute)
	if strings.TrimSpace(plain) != "hello bob" {
		t.Fatalf("decrypt output = %q", plain)
	}
}
