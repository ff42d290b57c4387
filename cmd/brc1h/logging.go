package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// flagLevels are the values accepted by --log-level.
var flagLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// logLevel resolves the level for cmd: --log-level wins over --verbose, and
// fallback applies when neither is set.
func logLevel(cmd *cobra.Command, fallback logrus.Level) (logrus.Level, error) {
	if name, _ := cmd.Flags().GetString("log-level"); name != "" {
		level, ok := flagLevels[name]
		if !ok {
			return fallback, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
		}
		return level, nil
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return logrus.DebugLevel, nil
	}
	return fallback, nil
}

// configureLogger builds the command logger writing to the command's stderr.
// Interactive commands pass logrus.PanicLevel as fallback to stay quiet; the
// bridge passes the configured level.
func configureLogger(cmd *cobra.Command, fallback logrus.Level) (*logrus.Logger, error) {
	level, err := logLevel(cmd, fallback)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
