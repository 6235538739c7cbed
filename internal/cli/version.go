package cli

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionInfo())
	},
}

// versionInfo includes the toolchain and VCS revision when the binary
// carries build info, so incident notes can pin the exact build.
func versionInfo() string {
	info := map[string]string{
		"name":    "failsafe",
		"version": version,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["go"] = bi.GoVersion
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info["revision"] = s.Value
			}
		}
	}
	out, _ := json.MarshalIndent(info, "", "  ")
	return string(out)
}
