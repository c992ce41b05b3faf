// Package logging provides logrus-based structured logging for the
// catalog and auth services. Newer services (playback, wallet) use
// internal/logger (slog); this package keeps the older tier consistent
// without forcing a migration.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New creates a configured *logrus.Logger for the named service.
// Level comes from LOG_LEVEL (debug/info/warn/error, default info).
// Output is JSON unless LOG_FORMAT=text.
func New(service string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	return l
}

// WithService returns an entry pre-tagged with the service name.
// Handlers should log through this so every line carries the field.
func WithService(l *logrus.Logger, service string) *logrus.Entry {
	return l.WithField("service", service)
}
