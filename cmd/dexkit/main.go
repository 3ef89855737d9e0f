package main

import (
	"os"

	"github.com/apk-analysis/dexkit-bridge/cmd/dexkit/command"
)

func main() {
	if err := command.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
