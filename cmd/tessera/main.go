// Command tessera runs and inspects a world tile peer.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/tessera/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands that return an ExitError have already reported it.
		// Anything else is a usage error from cobra.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
