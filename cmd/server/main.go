package main

import (
	"os"

	"github.com/Tyrowin/cipherchat/cmd/server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
