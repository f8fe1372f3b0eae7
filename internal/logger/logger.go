// Package logger provides leveled logging for lorekeep.
//
// Warnings and errors are always written. Debug and info messages, and
// section headers, appear only in verbose mode (the --verbose flag).
// Output goes to stderr and never to stdout, which carries the stdio
// protocol transport.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelTags = map[Level]string{
	LevelDebug: "[DEBUG] ",
	LevelInfo:  "[INFO] ",
	LevelWarn:  "[WARN] ",
	LevelError: "[ERROR] ",
}

var (
	mu      sync.Mutex
	verbose bool
	output  io.Writer = os.Stderr
)

// SetVerbose enables or disables debug and info output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// SetOutput sets the writer for log lines. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Enabled reports whether a message at level would be written.
func Enabled(level Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled(level)
}

func enabled(level Level) bool {
	return verbose || level >= LevelWarn
}

// Logf writes one line at level.
func Logf(level Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if enabled(level) {
		fmt.Fprintf(output, levelTags[level]+format+"\n", args...)
	}
}

// Debug logs detail useful when following ingestion or a query.
func Debug(format string, args ...any) { Logf(LevelDebug, format, args...) }

// Info logs progress.
func Info(format string, args ...any) { Logf(LevelInfo, format, args...) }

// Warn logs a degraded but recoverable condition.
func Warn(format string, args ...any) { Logf(LevelWarn, format, args...) }

// Error logs a failure.
func Error(format string, args ...any) { Logf(LevelError, format, args...) }

// Section prints a header separating phases in verbose output.
func Section(name string) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}
