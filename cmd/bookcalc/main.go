// Package main provides the bookcalc CLI.
package main

import (
	"os"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
