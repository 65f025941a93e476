// Package logging builds the process logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger on stderr. LOG_LEVEL selects the level
// (debug, info, warn, error) and LOG_FORMAT=json switches to JSON output.
func New() *zap.Logger {
	format := os.Getenv("LOG_FORMAT")
	l, err := Build(os.Getenv("LOG_LEVEL"), format)
	if err != nil {
		l, err = Build("", format)
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func Build(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, err
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if format != "json" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg.Build()
}
