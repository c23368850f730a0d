package logger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//nolint:gochecknoglobals // One logger and one level are shared by every package of a binary.
var (
	// level is changed at runtime by --log-level or the log_level setting.
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	// global backs FromContext when the context carries no logger.
	global = newLogger(zapcore.Lock(os.Stderr), level)
)

// newLogger writes colored console lines to sink. Logs go to stderr so the
// command result printed on stdout stays machine readable.
func newLogger(sink zapcore.WriteSyncer, enabler zapcore.LevelEnabler) *zap.SugaredLogger {
	config := zap.NewDevelopmentEncoderConfig()
	config.TimeKey = "time"
	config.LevelKey = "level"
	config.NameKey = "logger"
	config.MessageKey = "message"
	config.StacktraceKey = "stacktrace"
	config.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.ConsoleSeparator = ", "

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(config), sink, enabler)

	return zap.New(core).Sugar()
}

// ParseLogLevel maps debug, info, warn and error to zap levels.
// An empty string means info.
func ParseLogLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info", "":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// SetLevel changes the level of every logger derived from the global one.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// DebugKV logs message with key-value pairs at debug level.
func DebugKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Debugw(message, kvs...)
}

// Info logs args at info level.
func Info(ctx context.Context, args ...any) {
	FromContext(ctx).Info(args...)
}

// InfoKV logs message with key-value pairs at info level.
func InfoKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Infow(message, kvs...)
}

// WarnKV logs message with key-value pairs at warning level.
func WarnKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Warnw(message, kvs...)
}

// ErrorKV logs message with key-value pairs at error level.
func ErrorKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Errorw(message, kvs...)
}
