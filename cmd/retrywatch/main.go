// Command retrywatch watches a local IDE's remote-debugging endpoint and
// auto-clicks agent "Retry" buttons, guarded by a banned-command safety gate.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/retrywatch/cmd/retrywatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
