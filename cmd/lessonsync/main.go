package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lessonsync",
		Short: "Real-time lesson synchronization server",
		Long: `lessonsync keeps a teacher's live lesson and the students following it
in step over WebSocket connections.

Teachers start a lesson and move through its steps; subscribed students
are told when it becomes available, join it, and report their progress.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	return rootCmd
}
