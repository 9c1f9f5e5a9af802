package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banshee-data/serialframe/internal/monitoring"
)

// setupLogging builds the process logger and routes the library loggers
// through it. Per-packet traces are only enabled at debug level and below.
func setupLogging(out io.Writer, level, file string) (*logrus.Logger, func() error, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --%s: %w", LogLevelOptionName, err)
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	closeFn := func() error { return nil }
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(out, rotator))
		closeFn = rotator.Close
	} else {
		logger.SetOutput(out)
	}

	monitoring.SetLogger(levelledLogf(logger))
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		monitoring.SetDebugLogger(logger.Debugf)
	} else {
		monitoring.SetDebugLogger(nil)
	}
	return logger, closeFn, nil
}

// levelledLogf maps the [WARNING] and [ERROR] prefixes used by the library
// loggers onto logrus levels. Other lines are logged at info.
func levelledLogf(logger *logrus.Logger) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		switch {
		case strings.HasPrefix(format, "[ERROR] "):
			logger.Errorf(strings.TrimPrefix(format, "[ERROR] "), v...)
		case strings.HasPrefix(format, "[WARNING] "):
			logger.Warnf(strings.TrimPrefix(format, "[WARNING] "), v...)
		default:
			logger.Infof(format, v...)
		}
	}
}
