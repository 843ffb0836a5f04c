package main

import (
	"os"

	"github.com/rakha/ingat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
