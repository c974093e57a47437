// Package main provides the entry point for the crosstalk CLI.
package main

import (
	"fmt"
	"os"

	"github.com/crosstalk-ai/crosstalk/cmd/crosstalk/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
