package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger *zap.Logger

// InitLogger initializes the global logger. The level is taken from the
// LOG_LEVEL environment variable ("debug" enables debug output).
func InitLogger() error {
	config := zap.NewProductionConfig()

	if os.Getenv("LOG_LEVEL") == "debug" {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"

	logger, err := config.Build()
	if err != nil {
		return err
	}

	defaultLogger = logger
	zap.ReplaceGlobals(defaultLogger)
	return nil
}

// Logger returns the global logger instance.
func Logger() *zap.Logger {
	if defaultLogger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			// Never hand out a nil logger.
			logger = zap.NewNop()
		}
		defaultLogger = logger
	}
	return defaultLogger
}

// Sync flushes any buffered log entries.
func Sync() error {
	if defaultLogger == nil {
		return nil
	}
	return defaultLogger.Sync()
}
