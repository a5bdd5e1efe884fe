// Package cli implements the wasmboxcli subcommands, following the same
// package-level RootCommand convention open-policy-agent/opa/cmd uses.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCommand is the entry point main.go executes.
var RootCommand = &cobra.Command{
	Use:   "wasmboxcli",
	Short: "Load, drive, and snapshot wasmbox guest instances",
}

func init() {
	RootCommand.AddCommand(compileCommand)
	RootCommand.AddCommand(runCommand)
}

var log = logrus.StandardLogger()
