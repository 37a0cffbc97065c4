package main

import (
	"os"

	"github.com/dgallion1/quizgest/cmd/quizgest/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
