// Command wasmboxcli is the operator CLI for wasmbox: an external
// collaborator that drives the host façade from a line-oriented stdin
// protocol, carrying none of the core package's invariants itself.
package main

import (
	"fmt"
	"os"

	"github.com/jamsocket/wasmbox/cmd/wasmboxcli/internal/cli"
)

func main() {
	if err := cli.RootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
