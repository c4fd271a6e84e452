package tsl2591

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Package logger, JSON formatted so it can be parsed by datadog.
var l = newLogger(os.Getenv("LOG_LEVEL"))

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.Formatter = &logrus.JSONFormatter{}
	logger.SetOutput(os.Stdout)
	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
