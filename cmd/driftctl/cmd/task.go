package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// taskView mirrors the task JSON returned by the admin API.
type taskView struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	RecipientID     string         `json:"recipient_id"`
	EventType       string         `json:"event_type"`
	DeliveryURL     string         `json:"delivery_url"`
	Payload         map[string]any `json:"payload"`
	Status          string         `json:"status"`
	AttemptCount    int            `json:"attempt_count"`
	NextAttemptAt   *string        `json:"next_attempt_at,omitempty"`
	LastError       *string        `json:"last_error,omitempty"`
	ResponseCode    *int           `json:"response_code,omitempty"`
	RedeliveredFrom *string        `json:"redelivered_from,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

var (
	taskListStatus string
	taskListLimit  int
)

// taskCmd represents the task command
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and steer delivery tasks",
}

// taskListCmd lists the tenant's delivery tasks
var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/tasks?limit=%d", taskListLimit)
		if taskListStatus != "" {
			path += "&status=" + taskListStatus
		}

		resp, err := makeHTTPRequest("GET", path, nil)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}

		var out struct {
			Tasks []taskView `json:"tasks"`
		}
		if err := decodeResponse(resp, &out); err != nil {
			return err
		}

		if outputJSON {
			printOutput(out)
			return nil
		}

		if len(out.Tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}
		for _, t := range out.Tasks {
			line := fmt.Sprintf("%s  %-10s  attempts=%d  %s -> %s", t.ID, t.Status, t.AttemptCount, t.EventType, t.RecipientID)
			if t.LastError != nil {
				line += fmt.Sprintf("  last_error=%q", *t.LastError)
			}
			fmt.Println(line)
		}
		return nil
	},
}

// taskGetCmd fetches one delivery task
var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show one delivery task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", "/v1/tasks/"+args[0], nil)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}

		var t taskView
		if err := decodeResponse(resp, &t); err != nil {
			return err
		}
		printOutput(t)
		return nil
	},
}

// taskRetryCmd forces a task back to failed and due immediately
var taskRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Force a task to be retried on the next tick, whatever its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAction(args[0], "retry", "Retry scheduled for task %s\n")
	},
}

// taskMarkDeadCmd dead-letters a task without delivering it
var taskMarkDeadCmd = &cobra.Command{
	Use:   "mark-dead <task-id>",
	Short: "Force a task to the terminal dead state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAction(args[0], "mark-dead", "Task %s marked dead\n")
	},
}

// taskRedeliverCmd clones a task for a fresh round of delivery attempts
var taskRedeliverCmd = &cobra.Command{
	Use:   "redeliver <task-id>",
	Short: "Create a fresh delivery task carrying the same event",
	Long: `Create a new pending task with the same payload and event ID as the
source task. Attempt history starts over; the source task is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("POST", "/v1/tasks/"+args[0]+"/redeliver", nil)
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
			fmt.Printf("Redelivery task %s created from %s\n", t.ID, args[0])
		}
		return nil
	},
}

func taskAction(id, action, okFormat string) error {
	resp, err := makeHTTPRequest("POST", "/v1/tasks/"+id+"/"+action, nil)
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
		fmt.Printf(okFormat, t.ID)
	}
	return nil
}

func init() {
	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "filter by status (comma-separated: pending,delivering,succeeded,failed,dead)")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 50, "maximum number of tasks to return")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskRetryCmd)
	taskCmd.AddCommand(taskMarkDeadCmd)
	taskCmd.AddCommand(taskRedeliverCmd)
	rootCmd.AddCommand(taskCmd)
}
