package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup configures the standard logger and returns it. Unknown levels fall
// back to info.
func Setup(level, format string, out io.Writer) *log.Logger {
	logger := log.StandardLogger()
	if out == nil {
		out = os.Stdout
	}
	logger.SetOutput(out)

	switch format {
	case "text":
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
		})
	default:
		logger.SetFormatter(&log.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
		})
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
