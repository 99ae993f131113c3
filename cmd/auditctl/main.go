package main

import (
	"os"

	"auditchain/cmd/auditctl/cmd"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := cmd.NewRootCmd(version, commit).Execute(); err != nil {
		os.Exit(1)
	}
}
