package main

import (
	"os"

	"github.com/vantage-io/vantage/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
