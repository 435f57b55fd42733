package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsDays int

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show delivery task counts for the tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", fmt.Sprintf("/v1/stats?days=%d", statsDays), nil)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}

		var out struct {
			TenantID string         `json:"tenant_id"`
			Totals   map[string]int `json:"totals"`
			Days     []struct {
				Day    string `json:"day"`
				Status string `json:"status"`
				Count  int    `json:"count"`
			} `json:"days"`
		}
		if err := decodeResponse(resp, &out); err != nil {
			return err
		}

		if outputJSON {
			printOutput(out)
			return nil
		}

		fmt.Printf("Tenant: %s\n\nTotals:\n", out.TenantID)
		for _, status := range []string{"pending", "delivering", "succeeded", "failed", "dead"} {
			if n, ok := out.Totals[status]; ok {
				fmt.Printf("  %-10s %d\n", status, n)
			}
		}
		if len(out.Days) > 0 {
			fmt.Printf("\nLast %d days:\n", statsDays)
			for _, d := range out.Days {
				fmt.Printf("  %s  %-10s %d\n", d.Day, d.Status, d.Count)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "number of days of per-day buckets")
	rootCmd.AddCommand(statsCmd)
}
