package client

import (
	"net/url"

	"github.com/spf13/cobra"
)

// NewGroupCommand constructs the `group` command group.
func NewGroupCommand(baseURL BaseURLFunc) *cobra.Command {
	groupCmd := &cobra.Command{Use: "group", Short: "Group metadata operations"}
	groupCmd.AddCommand(newGroupCreateCommand(baseURL), newGroupGetCommand(baseURL))
	return groupCmd
}

func newGroupCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group with sealed member keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			creator, _ := cmd.Flags().GetString("creator")
			name, _ := cmd.Flags().GetString("name")
			memberKeys, _ := cmd.Flags().GetStringToString("member-key")

			req := map[string]any{
				"group_id":    id,
				"creator":     creator,
				"name":        name,
				"member_keys": memberKeys,
			}
			var out map[string]any
			if err := postJSON(baseURL()+"/v1/groups/create", req, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("id", "", "Group id")
	cmd.Flags().String("creator", "", "Creator account")
	cmd.Flags().String("name", "", "Group display name")
	cmd.Flags().StringToString("member-key", nil, "member=sealedGroupKey pairs (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("creator")
	return cmd
}

func newGroupGetCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch group metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			var out map[string]any
			if err := getJSON(baseURL()+"/v1/groups/get?id="+url.QueryEscape(id), &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("id", "", "Group id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
