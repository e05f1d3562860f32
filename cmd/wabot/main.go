package main

import (
	"fmt"
	"os"

	// Zone data for TIMEZONE on hosts without a tz database.
	_ "time/tzdata"

	"github.com/wabot/wabot/internal/cli"
	"github.com/wabot/wabot/pkg/logger"
)

// Set through -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			if logger.Log != nil {
				logger.Log.Error("Panic recovered", "panic", r)
			} else {
				fmt.Fprintf(os.Stderr, "Panic recovered: %v\n", r)
			}
			os.Exit(1)
		}
	}()

	cli.SetVersion(version, commit, date)
	os.Exit(cli.Execute())
}

// Personal.AI order the ending
