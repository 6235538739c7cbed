// failsafe — multi-level emergency control plane.
package main

import "github.com/opsline/failsafe/internal/cli"

func main() {
	cli.Execute()
}
