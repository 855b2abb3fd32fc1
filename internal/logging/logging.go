// Package logging builds the zap logger used by the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	// Verbose forces debug level.
	Verbose bool
	// Level is the configured level name. Empty means info.
	Level string
	// Console selects the human-readable encoder instead of JSON.
	Console bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// ResolveLevel picks the effective level: verbose wins, then level, then
// info.
func ResolveLevel(verbose bool, level string) (zapcore.Level, error) {
	if verbose {
		return zapcore.DebugLevel, nil
	}
	level = strings.TrimSpace(level)
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
	return l, nil
}

// New returns a logger writing to opts.Output.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := ResolveLevel(opts.Verbose, opts.Level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if opts.Console {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	var enc zapcore.Encoder
	if cfg.Encoding == "console" {
		enc = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), cfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}
