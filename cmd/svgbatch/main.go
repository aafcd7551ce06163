// Package main provides the entry point for the svgbatch CLI.
package main

import (
	"os"

	"github.com/svgtranslate/svgbatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
