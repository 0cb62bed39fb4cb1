package main

import (
	"os"

	"sealedchat/cmd/sealedchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
