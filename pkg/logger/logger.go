// Package logger provides leveled logging for client-side commands.
// Server code uses internal/logging (zap); terminal tools use this
// printf-style logger so their output stays human-readable.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the log level.
type Level int

const (
	LevelQuiet Level = iota
	LevelError
	LevelInfo
	LevelDebug
)

// Logger provides leveled logging.
type Logger struct {
	mu     sync.Mutex
	level  Level
	out    io.Writer
	prefix string
}

var defaultLogger = &Logger{
	level: LevelInfo,
	out:   os.Stderr,
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = level
}

// SetOutput sets the output writer.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.out = w
}

// SetPrefix sets the log prefix.
func SetPrefix(prefix string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.prefix = prefix
}

// ParseLevel parses a level string.
func ParseLevel(s string) Level {
	switch s {
	case "quiet", "q":
		return LevelQuiet
	case "error", "e":
		return LevelError
	case "debug", "d", "verbose", "v":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	tag := ""
	switch level {
	case LevelError:
		tag = "[ERROR] "
	case LevelInfo:
		tag = "[INFO]  "
	case LevelDebug:
		tag = "[DEBUG] "
	}

	fmt.Fprintf(l.out, "%s %s%s%s\n",
		time.Now().Format("15:04:05"), l.prefix, tag, fmt.Sprintf(format, args...))
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	defaultLogger.log(LevelError, format, args...)
}

// Info logs an info message.
func Info(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, format, args...)
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, format, args...)
}
