package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger. Its level can be changed at runtime
// through the returned AtomicLevel.
func newLogger(dev bool) (*zap.Logger, zap.AtomicLevel, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		return nil, cfg.Level, err
	}
	return log, cfg.Level, nil
}

// applyLevel sets level from a configuration value, keeping the current
// level when the value is not a zap level.
func applyLevel(level zap.AtomicLevel, value string, log *zap.Logger) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(value)); err != nil {
		log.Warn("Ignoring unknown log level", zap.String("level", value))
		return
	}
	if level.Level() != l {
		level.SetLevel(l)
		log.Info("Log level changed", zap.String("level", l.String()))
	}
}
