// Package main is the entry point for the hotvault daemon.
package main

import (
	"os"

	"github.com/mrz1836/hotvault/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
