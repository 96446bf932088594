// Package logger provides leveled, component-tagged logging for govorun.
//
// Every log line carries a component name ("longpoll", "dispatcher", ...)
// so that a single gateway process stays greppable. Output goes through
// log/slog with a text handler on stderr.
package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var currentLevel atomic.Int32

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelDebug,
}))

func init() {
	currentLevel.Store(int32(INFO))
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(level Level) {
	currentLevel.Store(int32(level))
}

// SetOutput replaces the backing slog logger. Intended for tests.
func SetOutput(l *slog.Logger) {
	defaultLogger = l
}

func enabled(level Level) bool {
	return int32(level) >= currentLevel.Load()
}

func attrs(component string, fields map[string]any) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", component)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func DebugC(component, msg string) {
	DebugCF(component, msg, nil)
}

func DebugCF(component, msg string, fields map[string]any) {
	if enabled(DEBUG) {
		defaultLogger.Debug(msg, attrs(component, fields)...)
	}
}

func InfoC(component, msg string) {
	InfoCF(component, msg, nil)
}

func InfoCF(component, msg string, fields map[string]any) {
	if enabled(INFO) {
		defaultLogger.Info(msg, attrs(component, fields)...)
	}
}

func WarnC(component, msg string) {
	WarnCF(component, msg, nil)
}

func WarnCF(component, msg string, fields map[string]any) {
	if enabled(WARN) {
		defaultLogger.Warn(msg, attrs(component, fields)...)
	}
}

func ErrorC(component, msg string) {
	ErrorCF(component, msg, nil)
}

func ErrorCF(component, msg string, fields map[string]any) {
	if enabled(ERROR) {
		defaultLogger.Error(msg, attrs(component, fields)...)
	}
}
