package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, structured, etc.)
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// Level orders log severities. Messages below the configured level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// ConsoleLogger writes human-readable logs to stdout/stderr.
// Used for normal operation and debugging.
type ConsoleLogger struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
	err   io.Writer
}

func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{level: LevelInfo, out: os.Stdout, err: os.Stderr}
}

// NewConsoleLoggerAt creates a console logger that drops messages below level.
func NewConsoleLoggerAt(level Level) *ConsoleLogger {
	l := NewConsoleLogger()
	l.level = level
	return l
}

// NewStderrLogger writes every level to stderr, for processes whose stdout
// carries a protocol such as MCP over stdio.
func NewStderrLogger(level Level) *ConsoleLogger {
	l := NewConsoleLoggerAt(level)
	l.out = os.Stderr
	return l
}

var (
	infoTag  = color.New(color.FgCyan).SprintFunc()
	warnTag  = color.New(color.FgYellow).SprintFunc()
	errorTag = color.New(color.FgRed, color.Bold).SprintFunc()
	debugTag = color.New(color.FgHiBlack).SprintFunc()
)

func (c *ConsoleLogger) write(w io.Writer, level Level, tag, msg string, args ...interface{}) {
	if level < c.level {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, tag+" "+msg+"\n", args...)
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.write(c.out, LevelInfo, infoTag("[INFO]"), msg, args...)
}

func (c *ConsoleLogger) Warn(msg string, args ...interface{}) {
	c.write(c.err, LevelWarn, warnTag("[WARN]"), msg, args...)
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.write(c.err, LevelError, errorTag("[ERROR]"), msg, args...)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	c.write(c.out, LevelDebug, debugTag("[DEBUG]"), msg, args...)
}

// SilentLogger discards all log messages.
// Used when running in TUI mode to prevent log output from interfering with the display.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
