// Package logger provides leveled, component-tagged logging for voicebridge.
// Every log line carries the component name so interleaved output from the
// broker receive goroutine, HTTP handlers and the drain loop stays readable.
package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Level controls which messages are emitted.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel atomic.Int32

var std = log.New(os.Stderr, "", log.LstdFlags)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// SetLevel sets the global log level.
func SetLevel(l Level) { currentLevel.Store(int32(l)) }

// SetLevelFromString parses a level name ("debug", "info", "warn", "error").
// Unknown names fall back to info.
func SetLevelFromString(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		SetLevel(LevelDebug)
	case "warn", "warning":
		SetLevel(LevelWarn)
	case "error":
		SetLevel(LevelError)
	default:
		SetLevel(LevelInfo)
	}
}

func enabled(l Level) bool { return int32(l) >= currentLevel.Load() }

func emit(l Level, tag, component, msg string, fields map[string]interface{}) {
	if !enabled(l) {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s [%s] %s", tag, component, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	std.Println(b.String())
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { emit(LevelDebug, "DEBUG", component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(LevelDebug, "DEBUG", component, msg, fields)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) { emit(LevelInfo, "INFO", component, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(LevelInfo, "INFO", component, msg, fields)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) { emit(LevelWarn, "WARN", component, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(LevelWarn, "WARN", component, msg, fields)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { emit(LevelError, "ERROR", component, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(LevelError, "ERROR", component, msg, fields)
}
