package main

import (
	"runtime"

	"eventvault/cmd"
)

// Version information set by build flags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, buildTime, gitCommit, runtime.Version())
	cmd.Execute()
}
