package main

import (
	"os"

	"github.com/screenvet/screenvet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
