package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/drewthekiiid/pipai-sub002/internal/cmd/client"
	serverrun "github.com/drewthekiiid/pipai-sub002/internal/cmd/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Progress relay for document uploads and analysis",
		Long: "relay streams analysis progress from an event log to browsers over SSE and websockets.\n" +
			"This CLI runs the server and talks to a running one.",
	}
	rootCmd.AddCommand(serverrun.NewCommand())
	clientcmd.Register(rootCmd, clientcmd.APIURLFromEnv)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
