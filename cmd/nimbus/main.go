// Nimbus is a command-line client for the experiment engine.
//
// Configuration comes from NIMBUS_* environment variables and an
// optional .env file.  See package config.
//
// Examples:
//
//	nimbus apply catalog.json
//	nimbus experiments
//	nimbus feature homescreen
//	nimbus opt-in my-experiment treatment
//	nimbus event app_opened --count 2
//	nimbus eval "days_since_install < 7"
//	nimbus serve --addr :8080
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nimbus: %v\n", err)
		os.Exit(1)
	}
}
