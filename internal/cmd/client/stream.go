package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	transports "github.com/drewthekiiid/pipai-sub002/internal/cmd/client/transports"
)

func getTransport(name string, baseURL BaseURLFunc, retries int) (transports.StreamTransport, error) {
	switch name {
	case "", "sse":
		t := transports.NewSSETransport(baseURL())
		t.Retries = retries
		return t, nil
	case "ws":
		return transports.NewWSTransport(baseURL()), nil
	default:
		return nil, fmt.Errorf("invalid --transport %q; use sse|ws", name)
	}
}

// NewStreamCommand constructs the `stream` command group and subcommands.
func NewStreamCommand(baseURL BaseURLFunc) *cobra.Command {
	streamCmd := &cobra.Command{Use: "stream", Short: "Stream operations"}
	streamCmd.AddCommand(newStreamTailCommand(baseURL))
	return streamCmd
}

// newStreamTailCommand constructs the `stream tail` subcommand.
func newStreamTailCommand(baseURL BaseURLFunc) *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail <workflow|file|user> <id>",
		Short: "Follow a progress stream and print one JSON frame per line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, _ := cmd.Flags().GetString("transport")
			lastID, _ := cmd.Flags().GetString("last-event-id")
			from, _ := cmd.Flags().GetString("from")
			filter, _ := cmd.Flags().GetString("filter")
			workflowID, _ := cmd.Flags().GetString("workflow-id")
			limit, _ := cmd.Flags().GetInt("limit")
			retries, _ := cmd.Flags().GetInt("retries")
			heartbeats, _ := cmd.Flags().GetBool("heartbeats")

			switch args[0] {
			case "workflow", "file", "user":
			default:
				return fmt.Errorf("invalid stream kind %q; use workflow|file|user", args[0])
			}
			if from != "" && from != "latest" && from != "earliest" {
				return fmt.Errorf("invalid --from; use latest|earliest")
			}
			if from == "earliest" {
				from = ""
			}
			t, err := getTransport(transport, baseURL, retries)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			err = t.Tail(cmd.Context(), transports.TailRequest{
				Kind:        args[0],
				ID:          args[1],
				LastEventID: lastID,
				From:        from,
				Filter:      filter,
				WorkflowID:  workflowID,
			}, func(f transports.Frame) error {
				if f.Event == "heartbeat" && !heartbeats {
					return nil
				}
				if err := enc.Encode(f); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					return transports.ErrStop
				}
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	tailCmd.Flags().String("transport", "sse", "Transport: sse|ws")
	tailCmd.Flags().String("last-event-id", "", "Resume after this frame id")
	tailCmd.Flags().String("from", "earliest", "Start position when not resuming: latest|earliest")
	tailCmd.Flags().String("filter", "", "CEL filter (server-side)")
	tailCmd.Flags().String("workflow-id", "", "Attach the workflow's status to a file stream")
	tailCmd.Flags().Int("limit", 0, "Stop after N frames (0 = until the server ends the stream)")
	tailCmd.Flags().Int("retries", 5, "Consecutive reconnect attempts over SSE")
	tailCmd.Flags().Bool("heartbeats", false, "Print heartbeat frames")
	return tailCmd
}
