// Package logging provides structured logging with zap.
package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const loggerKey contextKey = "logger"

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputPath string `yaml:"output_path"` // stderr, stdout, or file path
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotation size for file output
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig logs info and above to stderr as console text, leaving
// stdout to command output.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		OutputPath: "stderr",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// New builds a logger from cfg without touching the global one.
func New(cfg Config) (*zap.Logger, error) {
	return build(cfg, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))
}

func build(cfg Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var enc zapcore.Encoder
	if cfg.Format == "json" {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	out, err := writer(cfg)
	if err != nil {
		return nil, err
	}

	return zap.New(zapcore.NewCore(enc, out, level),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func writer(cfg Config) (zapcore.WriteSyncer, error) {
	switch cfg.OutputPath {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,
	}), nil
}

// Init initializes the global logger.
func Init(cfg Config) error {
	globalLevel.SetLevel(parseLevel(cfg.Level))
	logger, err := build(cfg, globalLevel)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger, a no-op logger until Init is called.
func L() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// WithContext returns a logger from context, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return L()
}

// WithLoadID attaches a logger tagged with the load id to ctx.
func WithLoadID(ctx context.Context, loadID string) context.Context {
	logger := WithContext(ctx).With(zap.String("load_id", loadID))
	return context.WithValue(ctx, loggerKey, logger)
}
