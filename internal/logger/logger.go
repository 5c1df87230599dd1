package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options control where log entries go.
type Options struct {
	Level string
	// File enables a rotated JSON log next to the console output.
	File string
	// Quiet drops the console core, used by CLI subcommands that print
	// their own output.
	Quiet bool
}

// Logger bundles the zap logger with the level it was built with so the
// level can change at runtime.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

func New(opts Options) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(levelOrDefault(opts.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	atom := zap.NewAtomicLevelAt(lvl)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core
	if !opts.Quiet {
		consoleConfig := encoderConfig
		if term.IsTerminal(int(os.Stdout.Fd())) {
			consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.Lock(os.Stdout), atom))
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), atom))
	}

	if len(cores) == 0 {
		return &Logger{Logger: zap.NewNop(), level: atom}, nil
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: l, level: atom}, nil
}

// SetLevel changes the level of every core built by New.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(levelOrDefault(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	l.level.SetLevel(lvl)
	return nil
}

func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}
