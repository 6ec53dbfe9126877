// Package logger holds the process-wide zap logger used by heapkit.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// L is the global logger instance. It discards everything until Init is called.
var L = zap.NewNop()

// Config configures the logger.
type Config struct {
	Level      string `toml:"level"`  // debug, info, warn, error. Default: info
	Format     string `toml:"format"` // console or json. Default: console
	Filename   string `toml:"filename"`
	MaxSize    int    `toml:"max-size"` // megabytes before rotation
	MaxDays    int    `toml:"max-days"`
	MaxBackups int    `toml:"max-backups"`
}

// Init builds a logger from cfg and installs it as L. Output goes to stderr when
// no Filename is set, otherwise to a lumberjack-rotated file.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	L = l
	return nil
}

// New builds a logger from cfg without installing it.
func New(cfg Config) (*zap.Logger, error) {
	level, err := cfg.level()
	if err != nil {
		return nil, err
	}
	enc, err := cfg.encoder()
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(enc, cfg.syncer(), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel)), nil
}

// Reset restores the discarding logger.
func Reset() {
	_ = L.Sync()
	L = zap.NewNop()
}

func (cfg Config) level() (zap.AtomicLevel, error) {
	if cfg.Level == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("logger: %w", err)
	}
	return lvl, nil
}

func (cfg Config) encoder() (zapcore.Encoder, error) {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	switch cfg.Format {
	case "", "console":
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	case "json":
		return zapcore.NewJSONEncoder(ec), nil
	default:
		return nil, fmt.Errorf("logger: unsupported log format: %s", cfg.Format)
	}
}

func (cfg Config) syncer() zapcore.WriteSyncer {
	if cfg.Filename == "" {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	})
}
