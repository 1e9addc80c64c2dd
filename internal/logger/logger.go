package logger

import (
	"io"
	"os"
	"strings"

	"github.com/samvad-hq/amplitude-cohorts/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface handed to components.
type Logger interface {
	InfoObj(msg, key string, obj interface{})
	DebugObj(msg, key string, obj interface{})
	WarnObj(msg, key string, obj interface{})
	ErrorObj(msg, key string, obj interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (*NopLogger) InfoObj(string, string, interface{})  {}
func (*NopLogger) DebugObj(string, string, interface{}) {}
func (*NopLogger) WarnObj(string, string, interface{})  {}
func (*NopLogger) ErrorObj(string, string, interface{}) {}

// Log is the zap-backed Logger.
type Log struct {
	z *zap.Logger
}

// Init builds a zap logger using settings from config and writing to w (stderr when nil),
// so stdout stays free for command output. It does not replace zap's globals.
func Init(cfg *config.Config, w io.Writer) (*Log, error) {
	if w == nil {
		w = os.Stderr
	}
	level := zapcore.InfoLevel
	if cfg != nil {
		level = ParseLevel(cfg.LogLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)
	return NewWithCore(core), nil
}

// NewWithCore wraps an arbitrary zap core, e.g. an observer in tests.
func NewWithCore(core zapcore.Core) *Log {
	return &Log{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))}
}

// ParseLevel maps config strings to zap levels, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close flushes any buffered entries.
func (l *Log) Close() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}

// Minimal object logging helpers -------------------------------------------------
// These log the given object as a structured field named `key` and do not attempt
// to parse arbitrary kv arrays.
func (l *Log) InfoObj(msg, key string, obj interface{}) {
	if l == nil {
		return
	}
	l.z.Info(msg, zap.Any(key, obj))
}

func (l *Log) DebugObj(msg, key string, obj interface{}) {
	if l == nil {
		return
	}
	l.z.Debug(msg, zap.Any(key, obj))
}

func (l *Log) WarnObj(msg, key string, obj interface{}) {
	if l == nil {
		return
	}
	l.z.Warn(msg, zap.Any(key, obj))
}

func (l *Log) ErrorObj(msg, key string, obj interface{}) {
	if l == nil {
		return
	}
	l.z.Error(msg, zap.Any(key, obj))
}
