// Package main is the operator CLI for gifmill: schema migrations, one-off
// sweeps, task inspection and the Drive refresh-token flow.
package main

import (
	"os"

	"gifmill/cmd/gifctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
