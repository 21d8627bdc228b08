// Package main is the entry point for the sifter application.
package main

import (
	"os"

	"github.com/sifterhq/sifter/cmd/sifter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
