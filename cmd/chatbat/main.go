package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "chatbat",
		Short:         "Real-time chat over server-sent events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "chatbat server URL (client commands)")

	rootCmd.AddCommand(
		newServeCommand(),
		newPostCommand(),
		newTailCommand(),
		newWatchdogCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
