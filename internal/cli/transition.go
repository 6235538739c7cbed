package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opsline/failsafe/internal/client"
)

var (
	transitionLevel  int
	transitionScope  string
	transitionReason string
	transitionOpts   []string
	transitionToken  string
)

func init() {
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
	for _, cmd := range []*cobra.Command{activateCmd, deactivateCmd} {
		cmd.Flags().IntVar(&transitionLevel, "level", -1, "Severity level (0-4)")
		cmd.Flags().StringVar(&transitionScope, "scope", "", "Scope in kind:value form, e.g. tenant:42")
		cmd.Flags().StringVar(&transitionReason, "reason", "", "Operator-supplied reason")
		cmd.Flags().StringSliceVar(&transitionOpts, "opt", nil, "Level option as key=value (repeatable)")
		cmd.Flags().StringVar(&transitionToken, "token", os.Getenv("FAILSAFE_TOKEN"), "Emergency token for system actors")
		cmd.MarkFlagRequired("level")
		cmd.MarkFlagRequired("scope")
		cmd.MarkFlagRequired("reason")
	}
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate an emergency switch",
	Long:  "Activates a switch at the given level and scope. Activating an\nalready-active key is a recorded no-op, so retrying is always safe.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd.Context(), false)
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate an emergency switch",
	Long:  "Deactivates an active switch. Requires a human actor with role\nstrength at least equal to what activation requires.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd.Context(), true)
	},
}

func runTransition(ctx context.Context, deactivate bool) error {
	opts, err := parseOpts(transitionOpts)
	if err != nil {
		return err
	}

	c := newClient()
	t := client.Transition{
		Level:  transitionLevel,
		Scope:  transitionScope,
		Reason: transitionReason,
		Opts:   opts,
	}

	var body map[string]any
	if deactivate {
		body, err = c.Deactivate(ctx, t)
	} else {
		body, err = c.Activate(ctx, t)
	}
	if err != nil {
		return err
	}

	printTransition(body, deactivate)
	return nil
}

func printTransition(body map[string]any, deactivate bool) {
	switch {
	case deactivate:
		fmt.Printf("deactivated %d/%s\n", transitionLevel, transitionScope)
	case body["duplicate"] == true:
		fmt.Printf("already active: %d/%s (recorded as duplicate)\n", transitionLevel, transitionScope)
	case body["partial"] == true:
		fmt.Printf("activated %d/%s with failed sub-actions:\n", transitionLevel, transitionScope)
	default:
		fmt.Printf("activated %d/%s\n", transitionLevel, transitionScope)
	}
	if failures, ok := body["failures"].([]any); ok {
		for _, f := range failures {
			if m, ok := f.(map[string]any); ok {
				fmt.Printf("  %v: %v\n", m["adapter"], m["error"])
			}
		}
	}
	if sw, ok := body["switch"].(map[string]any); ok {
		if id, ok := sw["id"].(string); ok {
			fmt.Printf("switch id: %s\n", id)
		}
	}
}

func parseOpts(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	opts := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --opt %q, expected key=value", p)
		}
		opts[k] = v
	}
	return opts, nil
}

func newClient() *client.Client {
	c := client.New(serverURL)
	c.ActorID = actorID
	c.Roles = actorRoles
	c.Token = transitionToken
	return c
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
