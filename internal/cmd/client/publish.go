package client

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type publishTarget struct {
	SubjectKey string `json:"subject_key,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	FileID     string `json:"file_id,omitempty"`
}

func targetFlags(cmd *cobra.Command) {
	cmd.Flags().String("subject", "", "Subject key")
	cmd.Flags().String("workflow-id", "", "Publish to the workflow's progress subject")
	cmd.Flags().String("file-id", "", "Publish to the file's analysis subject")
}

func readTarget(cmd *cobra.Command) (publishTarget, error) {
	var t publishTarget
	t.SubjectKey, _ = cmd.Flags().GetString("subject")
	t.WorkflowID, _ = cmd.Flags().GetString("workflow-id")
	t.FileID, _ = cmd.Flags().GetString("file-id")
	if t.SubjectKey == "" && t.WorkflowID == "" && t.FileID == "" {
		return t, fmt.Errorf("one of --subject, --workflow-id or --file-id is required")
	}
	return t, nil
}

// NewPublishCommand constructs the `publish` command group.
func NewPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{Use: "publish", Short: "Publish progress events"}
	publishCmd.AddCommand(
		newPublishProgressCommand(baseURL),
		newPublishTerminalCommand(baseURL),
		newPublishNotificationCommand(baseURL),
	)
	return publishCmd
}

func newPublishProgressCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Publish a progress step",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := readTarget(cmd)
			if err != nil {
				return err
			}
			data, err := jsonFlag(cmd, "data")
			if err != nil {
				return err
			}
			step, _ := cmd.Flags().GetString("step")
			progress, _ := cmd.Flags().GetFloat64("progress")
			message, _ := cmd.Flags().GetString("message")
			body := struct {
				publishTarget
				Step     string         `json:"step"`
				Progress float64        `json:"progress"`
				Message  string         `json:"message,omitempty"`
				Data     map[string]any `json:"data,omitempty"`
			}{target, step, progress, message, data}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/publish/progress", body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	targetFlags(cmd)
	cmd.Flags().String("step", "", "Step name")
	cmd.Flags().Float64("progress", 0, "Percent complete, 0 to 100")
	cmd.Flags().String("message", "", "Human readable message")
	cmd.Flags().String("data", "", "Extra fields as a JSON object")
	return cmd
}

func newPublishTerminalCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminal",
		Short: "Publish the completed or failed event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := readTarget(cmd)
			if err != nil {
				return err
			}
			result, err := jsonFlag(cmd, "result")
			if err != nil {
				return err
			}
			failed, _ := cmd.Flags().GetBool("failed")
			errMsg, _ := cmd.Flags().GetString("error")
			body := struct {
				publishTarget
				Success bool           `json:"success"`
				Result  map[string]any `json:"result,omitempty"`
				Error   string         `json:"error,omitempty"`
			}{target, !failed, result, errMsg}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/publish/terminal", body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	targetFlags(cmd)
	cmd.Flags().Bool("failed", false, "Publish a failure instead of a completion")
	cmd.Flags().String("result", "", "Result as a JSON object")
	cmd.Flags().String("error", "", "Failure message")
	return cmd
}

func newPublishNotificationCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notification",
		Short: "Publish a user notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			title, _ := cmd.Flags().GetString("title")
			message, _ := cmd.Flags().GetString("message")
			data, err := jsonFlag(cmd, "data")
			if err != nil {
				return err
			}
			body := map[string]any{"user_id": user, "title": title, "message": message, "data": data}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/publish/notification", body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().String("user", "", "Recipient user id")
	cmd.Flags().String("title", "", "Notification title")
	cmd.Flags().String("message", "", "Notification text")
	cmd.Flags().String("data", "", "Extra fields as a JSON object")
	return cmd
}
