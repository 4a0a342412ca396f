// Package client contains the Cobra CLI commands that talk to a running
// relay over its HTTP API, plus local envelope crypto helpers.
package client

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewKeyCommand constructs the `key` command group.
func NewKeyCommand(baseURL BaseURLFunc) *cobra.Command {
	keyCmd := &cobra.Command{Use: "key", Short: "Key registry operations"}
	keyCmd.AddCommand(newKeyRegisterCommand(baseURL), newKeyLookupCommand(baseURL))
	return keyCmd
}

func newKeyRegisterCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or rotate an account's public encryption key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, _ := cmd.Flags().GetString("account")
			keyB64, _ := cmd.Flags().GetString("public-key")
			displayName, _ := cmd.Flags().GetString("display-name")
			pub, err := base64.StdEncoding.DecodeString(keyB64)
			if err != nil {
				return fmt.Errorf("invalid --public-key: %w", err)
			}
			var out struct {
				Account string `json:"account"`
				Version uint32 `json:"version"`
			}
			req := map[string]any{"account": account, "public_key": pub, "display_name": displayName}
			if err := postJSON(baseURL()+"/v1/registry/register", req, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("account", "", "Account id")
	cmd.Flags().String("public-key", "", "Base64 X25519 public key (32 bytes)")
	cmd.Flags().String("display-name", "", "Optional display name")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func newKeyLookupCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up an account's registered key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, _ := cmd.Flags().GetString("account")
			version, _ := cmd.Flags().GetUint32("version")
			u := baseURL() + "/v1/registry/lookup?account=" + url.QueryEscape(account)
			if version > 0 {
				u += "&version=" + strconv.FormatUint(uint64(version), 10)
			}
			var out map[string]any
			if err := getJSON(u, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("account", "", "Account id")
	cmd.Flags().Uint32("version", 0, "Specific key version (default: latest)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
