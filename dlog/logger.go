// Package dlog is the zap-backed logger used throughout hound, adapted
// from the teacher's flog package down to what the registration engine
// and store adapter actually need: leveled structured logging, optional
// file rotation, and a process-scoped instance id so two nodes racing
// to register the same key are distinguishable in shared log output.
package dlog

import (
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Options configures a Logger. Filename is optional; when empty, only
// Console output is produced.
type Options struct {
	Level   Level
	Console bool

	// Filename, when set, rotates through lumberjack with the given
	// limits. MaxSize is in megabytes.
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

type Logger struct {
	l *zap.Logger
}

// New builds a Logger. Every Logger stamps its output with a random
// instance id, generated once at construction.
func New(opt Options) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02T15:04:05.000Z07:00"))
	}

	al := zap.NewAtomicLevelAt(opt.Level)
	var cores []zapcore.Core

	if opt.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stdout), al))
	}

	if opt.Filename != "" {
		syncer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSize,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), syncer, al))
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stdout), al))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return &Logger{l: base.With(zap.String("instance", uuid.NewString()))}
}

// Noop returns a Logger that discards everything; used where the caller
// doesn't supply one.
func Noop() *Logger {
	return &Logger{l: zap.NewNop()}
}

func (l *Logger) Zap() *zap.Logger { return l.l }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.l.Error(msg, fields...) }

func (l *Logger) Sync() error { return l.l.Sync() }
