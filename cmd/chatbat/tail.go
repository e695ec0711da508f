package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/chatbat/internal/client"
	"github.com/patrickspencer/chatbat/internal/store"
)

func newTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the chat and print messages as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiURL, _ := cmd.Flags().GetString("api")
			name, _ := cmd.Flags().GetString("name")
			join, _ := cmd.Flags().GetBool("join")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := client.New(apiURL, name)
			rec := client.NewReconciler(name)
			out := cmd.OutOrStdout()

			if join {
				go func() {
					// Give the stream a moment to register before announcing.
					time.Sleep(200 * time.Millisecond)
					if _, err := c.Join(context.WithoutCancel(ctx)); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "join failed: %v\n", err)
					}
				}()
			}

			return c.Follow(ctx, rec, func(m store.Message) {
				ts := time.Unix(m.Timestamp, 0).Format("15:04:05")
				fmt.Fprintf(out, "[%s] %s: %s\n", ts, m.SenderName, m.Content)
			})
		},
	}
	cmd.Flags().String("name", "tail", "display name used for presence")
	cmd.Flags().Bool("join", false, "announce presence after connecting")
	return cmd
}
