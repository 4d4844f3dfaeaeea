package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Development bool   `mapstructure:"development"`
}

// New builds a JSON logger writing to cfg.File, or stderr when no file is
// configured. The returned logger is meant to be passed down explicitly.
func New(cfg Config) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	atom := zap.NewAtomicLevel()
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	var sink zapcore.WriteSyncer
	if cfg.File == "" {
		sink = zapcore.Lock(os.Stderr)
	} else {
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(file)
	}

	encoder := zapcore.NewJSONEncoder(encCfg)
	if cfg.Development {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewCore(encoder, sink, atom), opts...), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
