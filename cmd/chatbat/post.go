package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/chatbat/internal/client"
)

func newPostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post [message]",
		Short: "Submit a message, presence ping or rename",
		Example: `  chatbat post --name alice "hello there"
  chatbat post --name alice --presence
  chatbat post --name carol --rename-from alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL, _ := cmd.Flags().GetString("api")
			name, _ := cmd.Flags().GetString("name")
			tabID, _ := cmd.Flags().GetString("tab-id")
			presence, _ := cmd.Flags().GetBool("presence")
			renameFrom, _ := cmd.Flags().GetString("rename-from")

			c := client.New(apiURL, name)
			if tabID != "" {
				c.TabID = tabID
			}

			var (
				res any
				err error
			)
			switch {
			case renameFrom != "":
				c.Name = renameFrom
				res, err = c.Rename(cmd.Context(), name)
			case presence:
				res, err = c.Join(cmd.Context())
			default:
				content := strings.TrimSpace(strings.Join(args, " "))
				if content == "" {
					return errors.New("message text required")
				}
				res, err = c.Send(cmd.Context(), content)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().String("name", "Anonymous", "sender display name")
	cmd.Flags().String("tab-id", "", "tab id to submit as (random when empty)")
	cmd.Flags().Bool("presence", false, "send a presence ping instead of a message")
	cmd.Flags().String("rename-from", "", "rename this sender's messages to --name")
	return cmd
}
