// Command tinyslice validates, runs and tests declarative slices.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tinyslice/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
