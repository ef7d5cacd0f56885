package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sandrun/internal/sandbox"
)

// isolateCmd is the child entry point of the process and docker sandboxes:
// it reads one job on stdin, runs it and writes one message on stdout.
var isolateCmd = &cobra.Command{
	Use:    "isolate",
	Short:  "Run one job from stdin (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return sandbox.ServeChild(os.Stdin, os.Stdout)
	},
}
