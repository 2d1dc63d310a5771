package client

import (
	"github.com/spf13/cobra"
)

// Register adds every client command group to root, resolving the HTTP API
// through baseURL.
func Register(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewStreamCommand(baseURL),
		NewPublishCommand(baseURL),
		NewSessionsCommand(baseURL),
		NewWorkflowCommand(baseURL),
		NewUploadCommand(baseURL),
		NewHealthCommand(),
	)
}
