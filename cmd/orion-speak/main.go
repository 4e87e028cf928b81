package main

import (
	"os"

	"github.com/liuscraft/orion-speak/cmd/orion-speak/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
