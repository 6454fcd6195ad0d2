package internal

import (
	"fmt"
	"runtime"
)

// set via ldflags at release build time
var (
	version = "dev"
	commit  = "?"
	date    = "?"
)

// BuildVersionString returns the version information of this build.
func BuildVersionString() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt at: %s\nusing: %s",
		version, commit, date, runtime.Version())
}
