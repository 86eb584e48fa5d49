// Package main is the entry point for the VigilantEye server and CLI.
package main

import (
	"fmt"
	"os"

	"vigilanteye/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
