package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newWatchdogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Check server health and optionally run a restart command",
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiURL, _ := cmd.Flags().GetString("api")
			restartCmd, _ := cmd.Flags().GetString("restart-cmd")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			if err := checkHealth(apiURL, timeout); err != nil {
				fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
				return handleUnhealthy(restartCmd, err)
			}
			return nil
		},
	}
	cmd.Flags().String("restart-cmd", "", "command to run if unhealthy")
	cmd.Flags().Duration("timeout", 5*time.Second, "health check timeout")
	return cmd
}

func checkHealth(apiURL string, timeout time.Duration) error {
	url := strings.TrimRight(apiURL, "/") + "/api/v1/health"
	client := &http.Client{Timeout: timeout}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func handleUnhealthy(restartCmd string, cause error) error {
	if restartCmd == "" {
		return cause
	}

	fmt.Fprintf(os.Stderr, "attempting restart: %s\n", restartCmd)
	cmd := exec.Command("sh", "-c", restartCmd)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restart command failed: %w", err)
	}
	return nil
}
