package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// tasksCmd represents the tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect delivery tasks",
	Long:  `Inspect the delivery task queue: pending work, retries, and quarantined tasks.`,
}

// tasksListCmd represents the tasks list command
var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery tasks",
	Long: `List delivery tasks, optionally filtered by issue and status.

Examples:
  quillctl tasks list --issue-id 3f1c...
  quillctl tasks list --status quarantined --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		issueID, _ := cmd.Flags().GetString("issue-id")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		if issueID != "" {
			q.Set("issue_id", issueID)
		}
		if status != "" {
			q.Set("status", status)
		}
		if limit > 0 {
			q.Set("limit", fmt.Sprintf("%d", limit))
		}
		path := "/admin/tasks"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		resp, err := makeRequest(http.MethodGet, path, nil, nil)
		if err != nil {
			return fmt.Errorf("task list request failed: %w", err)
		}
		body, err := decodeResponse(resp)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("task list failed (%s): %v", resp.Status, body["error"])
		}

		if outputJSON {
			printOutput(body)
			return nil
		}

		tasks, _ := body["tasks"].([]any)
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}
		fmt.Printf("Found %d task(s):\n", len(tasks))
		for _, raw := range tasks {
			t, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			fmt.Printf("\n  Task %v:\n", t["id"])
			fmt.Printf("    Issue ID: %v\n", t["issue_id"])
			fmt.Printf("    Recipient: %v\n", t["recipient"])
			fmt.Printf("    Status: %v\n", t["status"])
			fmt.Printf("    Attempts: %v\n", t["attempt_count"])
			if v, ok := t["next_eligible_time"]; ok && v != "" {
				fmt.Printf("    Next eligible: %v\n", v)
			}
			if v, ok := t["last_error"]; ok && v != nil && v != "" {
				fmt.Printf("    Last error: %v\n", v)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)

	tasksListCmd.Flags().String("issue-id", "", "filter by newsletter issue ID")
	tasksListCmd.Flags().String("status", "", "filter by status (pending, claimed, done, quarantined)")
	tasksListCmd.Flags().Int("limit", 50, "maximum number of tasks to return")
}
