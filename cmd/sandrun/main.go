// Sandrun runs untrusted JavaScript functions one shot at a time, each in a
// fresh isolate.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sandrun",
	Short: "Sandrun executes untrusted JavaScript functions in disposable isolates.",
	Long: `Sandrun assembles a function from a parameter list and a body, runs it once
in a fresh isolate under a wall-clock deadline, and reports a structured outcome.
It serves the engine over HTTP, WebSocket and MCP, or runs a single call locally.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, callCmd, mcpCmd, isolateCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
