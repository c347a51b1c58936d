package main

import (
	"fmt"
	"os"

	"github.com/aktenwerk/aktenwerk/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands run with SilenceErrors; report once here and map
		// the error to its exit code.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
