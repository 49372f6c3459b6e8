// Package logging provides the leveled logging system used across VoiceTask.
// It supports colored console output and optional file logging so turn
// processing can be reconstructed after the fact.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LOG LEVELS
// ═══════════════════════════════════════════════════════════════════════════════

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota // Detailed turn-processing information
	LevelInfo               // General operational information
	LevelWarn               // Warning conditions
	LevelError              // Error conditions
)

// String returns the string representation of a log level.
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

// Color returns the ANSI color code for each level.
func (l Level) Color() string {
	switch l {
	case LevelDebug:
		return "\033[36m" // Cyan
	case LevelInfo:
		return "\033[32m" // Green
	case LevelWarn:
		return "\033[33m" // Yellow
	case LevelError:
		return "\033[31m" // Red
	default:
		return "\033[0m"
	}
}

// ParseLevel converts a config string ("debug", "info", ...) to a Level.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

// Logger is the main logging instance for VoiceTask.
type Logger struct {
	mu         sync.Mutex
	level      Level
	output     io.Writer
	fileOutput io.Writer
	file       *os.File
	colored    bool
	showTime   bool
	component  string
}

// Config configures the logger behavior.
type Config struct {
	Level     Level  // Minimum level to log
	FilePath  string // Optional file path for persistent logs
	Colored   bool   // Enable colored output
	ShowTime  bool   // Show timestamp
	Component string // Component name prefix
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:    LevelInfo,
		Colored:  true,
		ShowTime: true,
	}
}

// New creates a new Logger instance.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		level:     cfg.Level,
		output:    os.Stderr,
		colored:   cfg.Colored,
		showTime:  cfg.ShowTime,
		component: cfg.Component,
	}

	if cfg.FilePath != "" {
		if err := l.SetFileOutput(cfg.FilePath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		}
	}

	return l
}

// SetFileOutput sets up file logging.
func (l *Logger) SetFileOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if l.file != nil {
		l.file.Close()
	}

	l.file = f
	l.fileOutput = f
	return nil
}

// Close closes any open file handles.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.fileOutput = nil
		return err
	}
	return nil
}

// WithComponent returns a new logger with a component prefix.
func (l *Logger) WithComponent(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &Logger{
		level:      l.level,
		output:     l.output,
		fileOutput: l.fileOutput,
		file:       l.file,
		colored:    l.colored,
		showTime:   l.showTime,
		component:  name,
	}
}

// log is the internal logging method.
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	reset := "\033[0m"

	if l.showTime {
		timestamp := time.Now().Format("2006-01-02 15:04:05.000")
		if l.colored {
			sb.WriteString("\033[90m")
			sb.WriteString(timestamp)
			sb.WriteString(reset)
		} else {
			sb.WriteString(timestamp)
		}
		sb.WriteString(" ")
	}

	if l.colored {
		sb.WriteString(level.Color())
		sb.WriteString(fmt.Sprintf("%-5s", level.String()))
		sb.WriteString(reset)
		sb.WriteString(" ")
	} else {
		sb.WriteString(fmt.Sprintf("%-5s ", level.String()))
	}

	if l.component != "" {
		sb.WriteString("[")
		sb.WriteString(l.component)
		sb.WriteString("] ")
	}

	sb.WriteString(fmt.Sprintf(format, args...))
	sb.WriteString("\n")
	line := sb.String()

	fmt.Fprint(l.output, line)
	if l.fileOutput != nil {
		// File output without color codes
		fmt.Fprint(l.fileOutput, stripANSI(line))
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// SetOutput overrides the console writer. Used by tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// stripANSI removes color escape sequences from a log line.
func stripANSI(s string) string {
	var sb strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\033':
			inEscape = true
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger = New(DefaultConfig())
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger instance.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger.level = level
}
