// Package main provides the entry point for the jeeves CLI.
package main

import (
	"os"

	"github.com/jeevesbot/jeeves/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
