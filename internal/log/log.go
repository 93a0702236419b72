package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// global accessible logger
var (
	logger *logrus.Logger
	Log    *logrus.Entry
)

// Tests and tools that never call Init still get a usable logger.
func init() {
	Init("ecocropshare-api", "info", false)
}

// Init rebuilds the process logger. jsonOutput selects the JSON formatter used
// in deployed environments; local runs keep the text formatter.
func Init(service, level string, jsonOutput bool) {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	if jsonOutput {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	Log = logger.WithFields(logrus.Fields{"service": service})
}

// Logger exposes the underlying logger so callers can redirect output in tests.
func Logger() *logrus.Logger {
	return logger
}
