package main

import (
	"fmt"
	"os"

	"github.com/swarmhub/swarmhub/internal/logging"
)

var version = "dev"

// Exit codes: 64 invalid configuration (including usage errors), 65
// data directory unusable, 74 fatal I/O after startup.
const (
	exitConfig = 64
	exitData   = 65
	exitIO     = 74
)

func main() {
	logging.Setup()

	args := os.Args[1:]
	if len(args) == 0 {
		os.Exit(runServe(nil))
	}

	switch args[0] {
	case "serve":
		os.Exit(runServe(args[1:]))
	case "version":
		fmt.Println(version)
	default:
		// A leading flag means the default subcommand.
		if args[0] != "" && args[0][0] == '-' {
			os.Exit(runServe(args))
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		fmt.Fprintf(os.Stderr, "usage: swarmhub [serve|version] [flags]\n")
		os.Exit(exitConfig)
	}
}
