// Package main provides the entry point for the pigeon-evals CLI.
package main

import (
	"os"

	"github.com/patteg21/pigeon-evals/cmd/pigeon-evals/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
