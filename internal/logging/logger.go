// Package logging provides component-tagged structured logging for the bridge.
//
// It wraps the standard [log/slog] package with a process-wide default logger
// and a shared level, so every subsystem logs with the same handler:
//
//	logging.SetLevel(slog.LevelDebug)
//	logging.Info(logging.ComponentBridge, "worker started", "task", id)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Bridge component identifiers.
const (
	ComponentSysArch   Component = "sysarch"
	ComponentMailbox   Component = "mailbox"
	ComponentNetif     Component = "netif"
	ComponentBridge    Component = "bridge"
	ComponentMeshSim   Component = "meshsim"
	ComponentRadioLink Component = "radiolink"
	ComponentHealth    Component = "health"
	ComponentCloudAuth Component = "cloudauth"
	ComponentTimeSync  Component = "timesync"
	ComponentCLI       Component = "cli"
)

// Format specifies the output format for logging.
type Format int

// Log format options.
const (
	FormatText Format = iota // Text format (default)
	FormatJSON               // JSON format
)

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	mu            sync.RWMutex
)

func init() {
	level.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetLevel sets the minimum log level for all bridge logging.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level returns the current minimum log level.
func Level() slog.Level {
	return level.Level()
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
// Unknown names map to warn.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// SetLogger replaces the default logger.
func SetLogger(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// Logger returns the current default logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetOutput points the default logger at w using the given format and the
// shared level.
func SetOutput(w io.Writer, format Format) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	SetLogger(slog.New(h))
}

func log(l slog.Level, component Component, msg string, args []any) {
	logger := Logger()
	logger.Log(context.Background(), l, msg, append([]any{"component", string(component)}, args...)...)
}

// Debug logs a debug message with the given component.
func Debug(component Component, msg string, args ...any) {
	log(slog.LevelDebug, component, msg, args)
}

// Info logs an info message with the given component.
func Info(component Component, msg string, args ...any) {
	log(slog.LevelInfo, component, msg, args)
}

// Warn logs a warning message with the given component.
func Warn(component Component, msg string, args ...any) {
	log(slog.LevelWarn, component, msg, args)
}

// Error logs an error message with the given component.
func Error(component Component, msg string, args ...any) {
	log(slog.LevelError, component, msg, args)
}
