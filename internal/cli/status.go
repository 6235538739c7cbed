package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status document")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active switches and platform health",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		if statusJSON {
			printJSON(body)
			return nil
		}

		if body["global_active"] == true {
			fmt.Println("PLATFORM STOP ACTIVE")
		}

		switches, _ := body["switches"].([]any)
		if len(switches) == 0 {
			fmt.Println("no active switches")
		} else {
			fmt.Printf("%d active switch(es):\n", len(switches))
			for _, s := range switches {
				m, ok := s.(map[string]any)
				if !ok {
					continue
				}
				auto := ""
				if m["auto_activated"] == true {
					auto = " [auto]"
				}
				fmt.Printf("  level %v  %v  since %v  by %v%s\n",
					m["level"], scopeString(m["scope"]), m["activated_at"], actorOf(m), auto)
				if reason, ok := m["reason"].(string); ok && reason != "" {
					fmt.Printf("    reason: %s\n", reason)
				}
			}
		}

		if health, ok := body["health"].(map[string]any); ok {
			fmt.Printf("health: %v\n", health["classification"])
		}
		return nil
	},
}

func scopeString(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Sprint(v)
	}
	kind, _ := m["kind"].(string)
	value, _ := m["value"].(string)
	if value == "" {
		return kind
	}
	return kind + ":" + value
}

func actorOf(m map[string]any) string {
	a, ok := m["actor"].(map[string]any)
	if !ok {
		return "?"
	}
	if id, ok := a["id"].(string); ok && id != "" {
		return id
	}
	return "?"
}
