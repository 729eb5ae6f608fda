package util

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogOptions configures the global logger
type LogOptions struct {
	Service string
	Env     string
	// Level overrides the environment default (debug in development, info in
	// production) when set.
	Level string
}

// InitLogger initializes the global logger. Every entry carries the service
// name and environment.
func InitLogger(opts LogOptions) error {
	config, err := loggerConfig(opts)
	if err != nil {
		return err
	}

	built, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

func loggerConfig(opts LogOptions) (zap.Config, error) {
	var config zap.Config

	if opts.Env == "production" {
		config = zap.NewProductionConfig()
		// Lockout and sale audit lines must not be sampled away.
		config.Sampling = nil
		config.EncoderConfig.TimeKey = "time"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return zap.Config{}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = level
	}

	config.InitialFields = map[string]interface{}{
		"service": opts.Service,
		"env":     opts.Env,
	}
	return config, nil
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
