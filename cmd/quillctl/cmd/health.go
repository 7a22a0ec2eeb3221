package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the Quillpost service",
	Long:  `Check the health status of the Quillpost api service, including its database connection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeRequest(http.MethodGet, "/healthz", nil, nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		body, err := decodeResponse(resp)
		if err != nil {
			return err
		}

		if outputJSON {
			printOutput(body)
			return nil
		}
		if resp.StatusCode == http.StatusOK {
			fmt.Println("✓ Service is healthy")
		} else {
			fmt.Printf("✗ Service is unhealthy (HTTP %d): %v\n", resp.StatusCode, body["message"])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
