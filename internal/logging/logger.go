// Package logging wraps logrus the way the rest of the stack expects:
// a small struct embedding *logrus.Logger plus field helpers, configurable
// by level and format; output always goes to stdout.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// Config controls the level and format of a Logger.
type Config struct {
	Level  string
	Format string
}

// New builds a Logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l}
}

// NewDefault returns an info-level, text-formatted logger for component.
func NewDefault(component string) *Logger {
	l := New(Config{Level: "info", Format: "text"})
	return &Logger{Logger: l.Logger.WithField("component", component).Logger}
}

// WithField returns a log entry carrying one field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry carrying several fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
