package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a newsletter issue to all confirmed subscribers",
	Long: `Publish a newsletter issue. The issue is fanned out into one delivery
task per confirmed subscriber and sent by the worker pool.

Retrying this command with the same --idempotency-key is safe: the
server replays the recorded outcome instead of sending the issue again.

Examples:
  quillctl publish --title "Issue 12" --html-file issue12.html --text-file issue12.txt
  quillctl publish --title "Issue 12" --html "<p>hello</p>" --idempotency-key issue-12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		htmlContent, _ := cmd.Flags().GetString("html")
		textContent, _ := cmd.Flags().GetString("text")
		htmlFile, _ := cmd.Flags().GetString("html-file")
		textFile, _ := cmd.Flags().GetString("text-file")
		key, _ := cmd.Flags().GetString("idempotency-key")

		if title == "" {
			return fmt.Errorf("--title is required")
		}
		if htmlFile != "" {
			b, err := os.ReadFile(htmlFile)
			if err != nil {
				return fmt.Errorf("failed to read html file: %w", err)
			}
			htmlContent = string(b)
		}
		if textFile != "" {
			b, err := os.ReadFile(textFile)
			if err != nil {
				return fmt.Errorf("failed to read text file: %w", err)
			}
			textContent = string(b)
		}
		if htmlContent == "" && textContent == "" {
			return fmt.Errorf("one of --html, --html-file, --text, --text-file is required")
		}
		if key == "" {
			// A fresh key per invocation; re-running a failed command needs
			// an explicit key to dedupe.
			key = uuid.NewString()
			fmt.Fprintf(os.Stderr, "Generated idempotency key: %s\n", key)
		}

		resp, err := makeRequest(http.MethodPost, "/admin/newsletters",
			map[string]string{"Idempotency-Key": key},
			map[string]string{
				"title":        title,
				"html_content": htmlContent,
				"text_content": textContent,
			})
		if err != nil {
			return fmt.Errorf("publish request failed: %w", err)
		}
		body, err := decodeResponse(resp)
		if err != nil {
			return err
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			if outputJSON {
				printOutput(body)
			} else {
				fmt.Println("✓ Issue accepted for delivery")
				fmt.Printf("  Issue ID: %v\n", body["issue_id"])
				fmt.Printf("  Tasks queued: %v\n", body["tasks_queued"])
			}
		case http.StatusOK:
			if outputJSON {
				printOutput(body)
			} else {
				fmt.Println("✓ Duplicate submission, recorded outcome replayed")
				fmt.Printf("  Issue ID: %v\n", body["issue_id"])
				fmt.Printf("  Tasks queued: %v\n", body["tasks_queued"])
			}
		case http.StatusConflict:
			return fmt.Errorf("a publish with this idempotency key is still in progress, retry shortly")
		default:
			return fmt.Errorf("publish failed (%s): %v", resp.Status, body["error"])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("title", "", "issue title (used as the email subject)")
	publishCmd.Flags().String("html", "", "HTML body content")
	publishCmd.Flags().String("text", "", "plain text body content")
	publishCmd.Flags().String("html-file", "", "read HTML body from file")
	publishCmd.Flags().String("text-file", "", "read plain text body from file")
	publishCmd.Flags().String("idempotency-key", "", "idempotency key (generated when omitted)")
}
