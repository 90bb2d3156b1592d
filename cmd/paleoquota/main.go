package main

import (
	"os"

	"github.com/paleoquota/paleoquota/cmd/paleoquota/commands"
)

func main() {
	rootCmd := commands.RootCommand()
	rootCmd.AddCommand(
		commands.StartCommand(),
		commands.GenIdentityCommand(),
		commands.VersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
