package client

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewMessagesCommand constructs the `messages` command group.
func NewMessagesCommand(baseURL BaseURLFunc) *cobra.Command {
	msgCmd := &cobra.Command{Use: "messages", Short: "Message delivery operations"}
	msgCmd.AddCommand(newMessagesQueryCommand(baseURL), newMessagesSubscribeCommand(baseURL))
	return msgCmd
}

func newMessagesQueryCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Pull finalized messages for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, _ := cmd.Flags().GetString("account")
			since, _ := cmd.Flags().GetUint64("since")
			limit, _ := cmd.Flags().GetInt("limit")
			filter, _ := cmd.Flags().GetString("filter")

			q := url.Values{}
			q.Set("account", account)
			q.Set("since", strconv.FormatUint(since, 10))
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if filter != "" {
				q.Set("filter", filter)
			}
			var out map[string]any
			if err := getJSON(baseURL()+"/v1/messages?"+q.Encode(), &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("account", "", "Recipient account")
	cmd.Flags().Uint64("since", 0, "Resume after this sequence")
	cmd.Flags().Int("limit", 0, "Max messages (server caps the page)")
	cmd.Flags().String("filter", "", "CEL filter expression")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newMessagesSubscribeCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Stream messages for an account over SSE until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, _ := cmd.Flags().GetString("account")
			since, _ := cmd.Flags().GetUint64("since")
			filter, _ := cmd.Flags().GetString("filter")

			q := url.Values{}
			q.Set("account", account)
			q.Set("since", strconv.FormatUint(since, 10))
			if filter != "" {
				q.Set("filter", filter)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				baseURL()+"/v1/messages/subscribe?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}

			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				fmt.Println(strings.TrimPrefix(line, "data: "))
			}
			if cmd.Context().Err() != nil {
				return nil
			}
			return scanner.Err()
		},
	}
	cmd.Flags().String("account", "", "Recipient account")
	cmd.Flags().Uint64("since", 0, "Resume after this sequence")
	cmd.Flags().String("filter", "", "CEL filter expression")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
