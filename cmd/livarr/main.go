// Package main is the entry point for the livarr application.
package main

import (
	"os"

	"github.com/livarr/livarr/cmd/livarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
