// Command inbound is the operator CLI for the inbound email API.
package main

import (
	"fmt"
	"os"

	"inbound-backend/internal/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
