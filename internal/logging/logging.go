// Package logging provides leveled logging for joinkit.
// Messages are printf-style; output is either human-readable text
// ("[INFO] message") or JSON lines with ts/level/msg keys.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", s)
}

var (
	mu     sync.RWMutex
	level  = LevelInfo
	format = "text"
	out    io.Writer
	simple bool
	sugar  *zap.SugaredLogger
)

func init() {
	rebuild()
}

// rebuild must be called with mu held (or during init).
func rebuild() {
	w := out
	if w == nil {
		w = os.Stderr
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var enc zapcore.Encoder
	if format == "json" {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = func(l zapcore.Level, pe zapcore.PrimitiveArrayEncoder) {
			pe.AppendString("[" + l.CapitalString() + "]")
		}
		encCfg.ConsoleSeparator = " "
		if simple {
			encCfg.TimeKey = ""
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(level.zapLevel()))
	sugar = zap.New(core).Sugar()
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	rebuild()
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsDebug reports whether debug messages are written.
func IsDebug() bool {
	return GetLevel() <= LevelDebug
}

// SetFormat selects "json" or "text" output. Anything else means text.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f != "json" {
		f = "text"
	}
	format = f
	rebuild()
}

// SetOutput redirects log output. nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// SetSimpleMode drops timestamps from text output, used while a progress
// bar owns the terminal.
func SetSimpleMode(on bool) {
	mu.Lock()
	defer mu.Unlock()
	simple = on
	rebuild()
}

func logger() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug logs at debug level.
func Debug(msg string, args ...interface{}) {
	logger().Debugf(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...interface{}) {
	logger().Infof(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...interface{}) {
	logger().Warnf(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...interface{}) {
	logger().Errorf(msg, args...)
}

// Sync flushes buffered output.
func Sync() error {
	return logger().Sync()
}
