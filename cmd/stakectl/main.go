package main

import (
	"os"

	"github.com/OrsiniBr/DoTrust/cmd/stakectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
