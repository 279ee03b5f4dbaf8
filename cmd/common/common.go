package common

import (
	"io"
	"os"

	"github.com/auriora/wirefly/pkg/logging"
)

// Version of the daemon. Overridden at link time for releases.
var Version = "0.1.0"

// SetupLogging configures the default logger from the config and the
// --log-output flag value. Output may be STDOUT, STDERR or a file path.
func SetupLogging(level, output string) {
	parsed, err := logging.ParseLevel(level)
	if err != nil {
		parsed = logging.InfoLevel
	}
	logging.SetGlobalLevel(parsed)

	var writer io.Writer
	switch output {
	case "", "STDERR":
		writer = os.Stderr
	case "STDOUT":
		writer = logging.NewConsoleWriter()
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			logging.Error().Err(err).Str("path", output).
				Msg("Could not open log file, logging to stderr.")
			writer = os.Stderr
		} else {
			writer = file
		}
	}
	logging.SetDefaultOutput(writer)
}
