// ./main.go
package main

import (
	"github.com/ttsops/secflow/cmd"
)

// main is the entry point for the secflow pipeline driver.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
