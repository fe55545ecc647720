package main

import (
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd := newRootCmd()
	cmd.Version = version + " (" + commit + ")"
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
