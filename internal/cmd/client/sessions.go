package client

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewSessionsCommand constructs the `sessions` command group.
func NewSessionsCommand(baseURL BaseURLFunc) *cobra.Command {
	sessionsCmd := &cobra.Command{Use: "sessions", Short: "Inspect and cancel live stream sessions"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/sessions", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [session-id]",
		Short: "Cancel a session by id, or every session of --key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			var u string
			switch {
			case len(args) == 1:
				u = baseURL() + "/v1/sessions/" + url.PathEscape(args[0])
			case key != "":
				u = baseURL() + "/v1/sessions?key=" + url.QueryEscape(key)
			default:
				return fmt.Errorf("a session id or --key is required")
			}
			var out map[string]any
			if err := doJSON(cmd.Context(), http.MethodDelete, u, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cancelCmd.Flags().String("key", "", "Session key, e.g. workflow:analyze-123")

	sessionsCmd.AddCommand(listCmd, cancelCmd)
	return sessionsCmd
}
