package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where the log goes and how much of it there is.
type Options struct {
	// Path of the log file. Rotated by size; old files are kept a while so a
	// failed release can be reconstructed afterwards.
	Path string
	// Debug lowers the level to debug and also writes to stderr.
	Debug bool
}

// New builds the process logger. The returned close function flushes and
// releases the log file.
func New(opts Options) (*zap.Logger, func() error, error) {
	if opts.Path == "" {
		return nil, nil, fmt.Errorf("logging: log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o775); err != nil {
		return nil, nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
		LocalTime:  true,
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	encoder := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(rotator), level)}
	if opts.Debug {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}
	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	closeFn := func() error {
		_ = logger.Sync()
		return rotator.Close()
	}
	return logger, closeFn, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		MessageKey:     "M",
		CallerKey:      "C",
		NameKey:        "N",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     localTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func localTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
}
