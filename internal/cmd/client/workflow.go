package client

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewWorkflowCommand constructs the `workflow` command group.
func NewWorkflowCommand(baseURL BaseURLFunc) *cobra.Command {
	wfCmd := &cobra.Command{Use: "workflow", Short: "Workflow operations"}
	statusCmd := &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show the engine's view of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			u := baseURL() + "/v1/workflows/" + url.PathEscape(args[0]) + "/status"
			if err := doJSON(cmd.Context(), http.MethodGet, u, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cancelCmd := &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Request cancellation of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			u := baseURL() + "/v1/workflows/" + url.PathEscape(args[0]) + "/cancel"
			if err := doJSON(cmd.Context(), http.MethodPost, u, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	wfCmd.AddCommand(statusCmd, cancelCmd)
	return wfCmd
}
