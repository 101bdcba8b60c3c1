// Package logging builds the zap loggers used by the adaparse commands.
// Every logger writes JSON to stderr; a category logger can also mirror its output
// to <dir>/<category>.log so a long run leaves a file behind.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem and its log file.
type Category string

const (
	CategoryBalance Category = "balance" // JSONL rebalancing
	CategoryArchive Category = "archive" // PDF zipping
	CategoryTimers  Category = "timers"  // timer log parsing
	CategoryNougat  Category = "nougat"  // batched PDF inference
)

// Options configures New.
type Options struct {
	Verbose bool     // debug level instead of info
	Dir     string   // when set, also log to Dir/<Name>.log
	Name    Category // logger name and log file stem
	Quiet   bool     // drop the stderr output, keeping only the file
}

// New builds a production zap logger for opts. Callers Sync it on exit.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if opts.Verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config.OutputPaths = nil
	if !opts.Quiet {
		config.OutputPaths = append(config.OutputPaths, "stderr")
	}
	if opts.Dir != "" {
		path, err := FilePath(opts.Dir, opts.Name)
		if err != nil {
			return nil, err
		}
		config.OutputPaths = append(config.OutputPaths, path)
	}
	if len(config.OutputPaths) == 0 {
		return zap.NewNop(), nil
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if opts.Name != "" {
		logger = logger.Named(string(opts.Name))
	}
	return logger, nil
}

// FilePath returns the log file for category under dir, creating dir.
func FilePath(dir string, category Category) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}
	name := string(category)
	if name == "" {
		name = "adaparse"
	}
	return filepath.Join(dir, name+".log"), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}
