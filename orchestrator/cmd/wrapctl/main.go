package main

import (
	"fmt"
	"os"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
