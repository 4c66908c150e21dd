// Package logging builds the zap loggers shared by the host tools.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger is the logger type passed between components.
type Logger = *zap.SugaredLogger

// NewLoggerConfig returns the default console config: no stacktraces,
// ISO8601 timestamps, colored levels.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a named logger that emits Info and above.
func NewLogger(name string) Logger {
	return build(name, zap.InfoLevel)
}

// NewDebugLogger returns a named logger that emits Debug and above.
func NewDebugLogger(name string) Logger {
	return build(name, zap.DebugLevel)
}

// NewTestLogger routes log output through tb.
func NewTestLogger(tb testing.TB) Logger {
	return zaptest.NewLogger(tb).Sugar()
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}

func build(name string, level zapcore.Level) Logger {
	cfg := NewLoggerConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		// The static config above cannot fail to build.
		panic(err)
	}
	return logger.Sugar().Named(name)
}
