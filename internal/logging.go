package internal

import (
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/fatih/color"
)

// DefaultInitialPadding is the default padding in the log library.
const DefaultInitialPadding = 3

// ExtraPadding is the double of the DefaultInitialPadding.
const ExtraPadding = DefaultInitialPadding * 2

// SetupLogging configures the global logger. Verbosity 0 shows only
// warnings and errors, 1 adds progress info, 2 adds debug output.
func SetupLogging(verbosity int, jsonLogs bool) {
	if jsonLogs {
		log.SetHandler(json.New(os.Stderr))
	} else {
		log.SetHandler(cli.Default)
	}

	switch {
	case verbosity <= 0:
		log.SetLevel(log.WarnLevel)
	case verbosity == 1:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
}

// LogTitle pretty prints a given title.
func LogTitle(title string) {
	cli.Default.Padding = DefaultInitialPadding

	log.Info(color.New(color.Bold).Sprint(strings.ToUpper(title)))

	cli.Default.Padding = ExtraPadding
}
