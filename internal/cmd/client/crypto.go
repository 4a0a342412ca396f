package client

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
)

// NewCryptoCommand constructs the `crypto` command group: local envelope
// operations that never touch the relay.
func NewCryptoCommand() *cobra.Command {
	cryptoCmd := &cobra.Command{Use: "crypto", Short: "Local envelope encryption helpers"}
	cryptoCmd.AddCommand(newKeygenCommand(), newEncryptCommand(), newDecryptCommand())
	return cryptoCmd
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an X25519 key pair",
		RunE: func(*cobra.Command, []string) error {
			pub, priv, err := envelope.GenerateKeyPair()
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"public_key":  base64.StdEncoding.EncodeToString(pub),
				"private_key": base64.StdEncoding.EncodeToString(priv),
			})
		},
	}
}

func newEncryptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal a plaintext for a recipient's public key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, _ := cmd.Flags().GetString("sender")
			recipient, _ := cmd.Flags().GetString("recipient")
			keyB64, _ := cmd.Flags().GetString("recipient-key")
			plaintext, _ := cmd.Flags().GetString("plaintext")

			pub, err := base64.StdEncoding.DecodeString(keyB64)
			if err != nil {
				return fmt.Errorf("invalid --recipient-key: %w", err)
			}
			sealed, err := envelope.Encrypt([]byte(plaintext), pub, sender, recipient)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"ciphertext":           base64.StdEncoding.EncodeToString(sealed.Ciphertext),
				"nonce":                base64.StdEncoding.EncodeToString(sealed.Nonce),
				"ephemeral_public_key": base64.StdEncoding.EncodeToString(sealed.EphemeralPublicKey),
			})
		},
	}
	cmd.Flags().String("sender", "", "Sender account (bound into the AAD)")
	cmd.Flags().String("recipient", "", "Recipient account (bound into the AAD)")
	cmd.Flags().String("recipient-key", "", "Base64 recipient X25519 public key")
	cmd.Flags().String("plaintext", "", "Message plaintext")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("recipient-key")
	return cmd
}

func newDecryptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Open a sealed envelope with the recipient's private key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, _ := cmd.Flags().GetString("sender")
			recipient, _ := cmd.Flags().GetString("recipient")
			privB64, _ := cmd.Flags().GetString("private-key")
			ctB64, _ := cmd.Flags().GetString("ciphertext")
			nonceB64, _ := cmd.Flags().GetString("nonce")
			ephB64, _ := cmd.Flags().GetString("ephemeral-key")

			priv, err := base64.StdEncoding.DecodeString(privB64)
			if err != nil {
				return fmt.Errorf("invalid --private-key: %w", err)
			}
			ct, err := base64.StdEncoding.DecodeString(ctB64)
			if err != nil {
				return fmt.Errorf("invalid --ciphertext: %w", err)
			}
			nonce, err := base64.StdEncoding.DecodeString(nonceB64)
			if err != nil {
				return fmt.Errorf("invalid --nonce: %w", err)
			}
			eph, err := base64.StdEncoding.DecodeString(ephB64)
			if err != nil {
				return fmt.Errorf("invalid --ephemeral-key: %w", err)
			}
			plaintext, err := envelope.Decrypt(envelope.Sealed{
				Ciphertext:         ct,
				Nonce:              nonce,
				EphemeralPublicKey: eph,
			}, priv, sender, recipient)
			if err != nil {
				return err
			}
			fmt.Println(string(plaintext))
			return nil
		},
	}
	cmd.Flags().String("sender", "", "Sender account (bound into the AAD)")
	cmd.Flags().String("recipient", "", "Recipient account (bound into the AAD)")
	cmd.Flags().String("private-key", "", "Base64 recipient X25519 private key")
	cmd.Flags().String("ciphertext", "", "Base64 ciphertext")
	cmd.Flags().String("nonce", "", "Base64 nonce")
	cmd.Flags().String("ephemeral-key", "", "Base64 ephemeral public key")
	for _, f := range []string{"sender", "recipient", "private-key", "ciphertext", "nonce", "ephemeral-key"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
