package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// subscriberCmd represents the subscriber command
var subscriberCmd = &cobra.Command{
	Use:   "subscriber",
	Short: "Manage newsletter subscribers",
	Long:  `Add subscribers and confirm pending subscriptions.`,
}

// subscriberAddCmd represents the subscriber add command
var subscriberAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a pending subscriber",
	Long: `Add a new subscriber in pending state. The returned confirmation
token must be confirmed before the subscriber receives issues.

Example:
  quillctl subscriber add --email ursula@example.com --name "Ursula Le Guin"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		if email == "" || name == "" {
			return fmt.Errorf("--email and --name are required")
		}

		resp, err := makeRequest(http.MethodPost, "/subscriptions", nil,
			map[string]string{"email": email, "name": name})
		if err != nil {
			return fmt.Errorf("subscribe request failed: %w", err)
		}
		body, err := decodeResponse(resp)
		if err != nil {
			return err
		}

		switch resp.StatusCode {
		case http.StatusCreated:
			if outputJSON {
				printOutput(body)
			} else {
				fmt.Println("✓ Subscriber added (pending confirmation)")
				fmt.Printf("  Confirmation token: %v\n", body["confirmation_token"])
			}
		case http.StatusConflict:
			return fmt.Errorf("email is already subscribed")
		default:
			return fmt.Errorf("subscribe failed (%s): %v", resp.Status, body["error"])
		}
		return nil
	},
}

// subscriberConfirmCmd represents the subscriber confirm command
var subscriberConfirmCmd = &cobra.Command{
	Use:   "confirm [token]",
	Short: "Confirm a pending subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		resp, err := makeRequest(http.MethodGet,
			"/subscriptions/confirm?token="+url.QueryEscape(token), nil, nil)
		if err != nil {
			return fmt.Errorf("confirm request failed: %w", err)
		}
		body, err := decodeResponse(resp)
		if err != nil {
			return err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			fmt.Println("✓ Subscription confirmed")
		case http.StatusNotFound:
			return fmt.Errorf("unknown confirmation token")
		default:
			return fmt.Errorf("confirm failed (%s): %v", resp.Status, body["error"])
		}
		return nil
	},
}

// subscriberListCmd represents the subscriber list command
var subscriberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List confirmed subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeRequest(http.MethodGet, "/admin/subscribers", nil, nil)
		if err != nil {
			return fmt.Errorf("subscriber list request failed: %w", err)
		}
		body, err := decodeResponse(resp)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("subscriber list failed (%s): %v", resp.Status, body["error"])
		}

		if outputJSON {
			printOutput(body)
			return nil
		}

		subs, _ := body["subscribers"].([]any)
		if len(subs) == 0 {
			fmt.Println("No confirmed subscribers")
			return nil
		}
		fmt.Printf("Found %d confirmed subscriber(s):\n", len(subs))
		for _, raw := range subs {
			s, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			fmt.Printf("  %v <%v> (since %v)\n", s["name"], s["email"], s["subscribed_at"])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subscriberCmd)
	subscriberCmd.AddCommand(subscriberAddCmd)
	subscriberCmd.AddCommand(subscriberConfirmCmd)
	subscriberCmd.AddCommand(subscriberListCmd)

	subscriberAddCmd.Flags().String("email", "", "subscriber email address")
	subscriberAddCmd.Flags().String("name", "", "subscriber display name")
}
