package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// NewLogger creates a new logger instance
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	if level != "" {
		switch strings.ToUpper(level) {
		case "DEBUG":
			logger.SetLevel(logrus.DebugLevel)
		case "INFO":
			logger.SetLevel(logrus.InfoLevel)
		case "WARN", "WARNING":
			logger.SetLevel(logrus.WarnLevel)
		case "ERROR":
			logger.SetLevel(logrus.ErrorLevel)
		}
	}

	return logger
}

// NewLoggerFromConfig builds a logger with the configured level and format and,
// when a directory is configured, one log file per level.
func NewLoggerFromConfig(cfg LoggingYAMLConfig) (*logrus.Logger, error) {
	logger := NewLogger(cfg.Level)

	switch strings.ToLower(cfg.Format) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.FilePath != "" {
		if err := addFileLogger(logger, cfg.FilePath); err != nil {
			return logger, fmt.Errorf("failed to set up file logging in %s: %w", cfg.FilePath, err)
		}
	}
	return logger, nil
}

func addFileLogger(logger *logrus.Logger, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	logger.Hooks.Add(lfshook.NewHook(lfshook.PathMap{
		logrus.DebugLevel: filepath.Join(dir, "debug.log"),
		logrus.InfoLevel:  filepath.Join(dir, "info.log"),
		logrus.WarnLevel:  filepath.Join(dir, "warn.log"),
		logrus.ErrorLevel: filepath.Join(dir, "error.log"),
		logrus.FatalLevel: filepath.Join(dir, "fatal.log"),
		logrus.PanicLevel: filepath.Join(dir, "panic.log"),
	}, logger.Formatter))
	return nil
}
