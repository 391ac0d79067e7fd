// Package logger - Leveled, module-tagged logging.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[LogLevel]string{
		DEBUG: "\033[36m", // Cyan
		INFO:  "\033[32m", // Green
		WARN:  "\033[33m", // Yellow
		ERROR: "\033[31m", // Red
	}

	resetColor = "\033[0m"
)

// Logger provides leveled logging with module support.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	useColor bool
	out      *log.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger. Only the first call has an effect.
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// Default returns the global logger, initializing it at INFO on stderr if
// Init was never called.
func Default() *Logger {
	Init(INFO, os.Stderr, false)
	return defaultLogger
}

// New creates a new Logger instance.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		level:    level,
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.GetLevel() && level < SILENT
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	prefix := "[" + levelNames[level] + "]"
	if l.useColor {
		prefix = levelColors[level] + prefix + resetColor
	}
	if module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, module)
	}

	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Module binds a module name, and optionally a request scope, to a Logger.
type Module struct {
	l    *Logger
	name string
}

// For returns a Module logger. A nil l uses the global logger.
func For(l *Logger, name string) Module {
	if l == nil {
		l = Default()
	}
	return Module{l: l, name: name}
}

// With returns a copy whose module tag is extended with scope, e.g. a request id.
func (m Module) With(scope string) Module {
	return Module{l: m.l, name: m.name + " " + scope}
}

func (m Module) Debug(format string, args ...interface{}) { m.l.Debug(m.name, format, args...) }
func (m Module) Info(format string, args ...interface{})  { m.l.Info(m.name, format, args...) }
func (m Module) Warn(format string, args ...interface{})  { m.l.Warn(m.name, format, args...) }
func (m Module) Error(format string, args ...interface{}) { m.l.Error(m.name, format, args...) }

// Global logger functions (use default logger)

// SetLevel sets the global log level.
func SetLevel(level LogLevel) {
	Default().SetLevel(level)
}

// Debug logs a debug message using the global logger.
func Debug(module string, format string, args ...interface{}) {
	Default().Debug(module, format, args...)
}

// Info logs an info message using the global logger.
func Info(module string, format string, args ...interface{}) {
	Default().Info(module, format, args...)
}

// Warn logs a warning message using the global logger.
func Warn(module string, format string, args ...interface{}) {
	Default().Warn(module, format, args...)
}

// Error logs an error message using the global logger.
func Error(module string, format string, args ...interface{}) {
	Default().Error(module, format, args...)
}

// ParseLevel parses a log level string.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// UnmarshalText lets a LogLevel be read from configuration.
func (l *LogLevel) UnmarshalText(text []byte) error {
	level, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// MarshalText writes the level name.
func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}
