// Package main provides the entry point for the taskvine CLI.
package main

import (
	"os"

	"github.com/taskvine/taskvine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
