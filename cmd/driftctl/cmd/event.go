package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	eventRecipientID string
	eventType        string
	eventDeliveryURL string
	eventPayload     string
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Enqueue events for webhook delivery",
}

// eventSendCmd enqueues a delivery task for an event
var eventSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Enqueue an event for delivery to a recipient",
	Long: `Create a delivery task for an event. The task is picked up by the
dispatcher on its next tick and delivered as a signed webhook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parsePayload(eventPayload)
		if err != nil {
			return err
		}

		body := map[string]any{
			"recipient_id": eventRecipientID,
			"event_type":   eventType,
			"delivery_url": eventDeliveryURL,
			"payload":      payload,
		}

		resp, err := makeHTTPRequest("POST", "/v1/events", body)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}

		var t taskView
		if err := decodeResponse(resp, &t); err != nil {
			return err
		}

		if outputJSON {
			printOutput(t)
		} else {
			fmt.Printf("Enqueued task %s (event %v)\n", t.ID, t.Payload["event_id"])
		}
		return nil
	},
}

func init() {
	eventSendCmd.Flags().StringVar(&eventRecipientID, "recipient", "", "recipient ID (required)")
	eventSendCmd.Flags().StringVar(&eventType, "type", "", "event type, e.g. order.created (required)")
	eventSendCmd.Flags().StringVar(&eventDeliveryURL, "url", "", "delivery URL (required)")
	eventSendCmd.Flags().StringVar(&eventPayload, "payload", "{}", "event payload as JSON")
	_ = eventSendCmd.MarkFlagRequired("recipient")
	_ = eventSendCmd.MarkFlagRequired("type")
	_ = eventSendCmd.MarkFlagRequired("url")

	eventCmd.AddCommand(eventSendCmd)
	rootCmd.AddCommand(eventCmd)
}
