package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	actorID    string
	actorRoles []string
)

var rootCmd = &cobra.Command{
	Use:   "failsafe",
	Short: "Multi-level emergency control plane",
	Long:  "Kill-switch control plane for a multi-tenant real-time platform.\nFive severities, from throttling a single feature to a full platform stop,\nwith durable, auditable, serialized state transitions.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8787", "Control plane base URL")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", os.Getenv("FAILSAFE_ACTOR"), "Acting identity")
	rootCmd.PersistentFlags().StringSliceVar(&actorRoles, "role", nil, "Roles held by the actor (repeatable)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
