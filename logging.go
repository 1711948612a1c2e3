package main

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log styles accepted by newLogger.
const (
	LogStyleTerminal = "terminal"
	LogStyleJSON     = "json"
	LogStyleNoop     = "noop"
)

// newLogger builds the process logger. Errors go to stderr, everything else
// to stdout.
func newLogger(level, style string) (*zap.Logger, error) {
	if style == LogStyleNoop {
		return zap.NewNop(), nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "log level %q", level)
	}

	var encoder zapcore.Encoder
	switch style {
	case LogStyleJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.RFC3339TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	case LogStyleTerminal, "":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "log style %q", style)
	}

	isError := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel && l >= lvl
	})
	isInfo := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l < zapcore.ErrorLevel && l >= lvl
	})
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), isError),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), isInfo),
	)
	return zap.New(core), nil
}
