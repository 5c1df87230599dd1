package main

import (
	"os"

	// Embedded zone database for hosts without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/martijn/snapkeep/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
