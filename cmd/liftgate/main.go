package main

import (
	"os"

	"github.com/liftgate/liftgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
