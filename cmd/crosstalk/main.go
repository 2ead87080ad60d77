package main

import (
	"os"

	"github.com/chebizarro/crosstalk/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
