// Package main is the entry point for the pmt binary.
package main

import (
	"os"

	cli "pmt-pipeline/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
