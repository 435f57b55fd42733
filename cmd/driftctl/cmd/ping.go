package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the Drifthook service",
	Long:  `Send a ping request to verify the Drifthook API is running and accessible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", "/v1/ping", nil)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}

		var out map[string]string
		if err := decodeResponse(resp, &out); err != nil {
			return err
		}

		if outputJSON {
			printOutput(out)
		} else {
			fmt.Println("Pong! Service is running")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
