// Package logger provides the package wide structured logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the package wide logger; it discards everything until Init is called
var Log = zap.NewNop().Sugar()

// Init replaces Log with a production logger logging at level.
// Empty level means info.
func Init(level string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid log level %q: %v", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %v", err)
	}
	Log = l.Sugar()

	return nil
}

// Sync flushes buffered log entries
func Sync() {
	_ = Log.Sync()
}
