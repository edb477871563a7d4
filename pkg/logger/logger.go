// Package logger provides structured, component-tagged logging for AsteronIris.
//
// Call sites take a component tag and a field map (InfoCF/ErrorCF/WarnCF/
// DebugCF), backed by zerolog.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Configure sets the minimum level and output writer. level is one of
// "debug", "info", "warn", "error"; unrecognized values default to "info".
func Configure(level string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	log = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func withFields(e *zerolog.Event, component string, fields map[string]interface{}) *zerolog.Event {
	e = e.Str("component", component)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

// InfoCF logs an info-level message tagged with a component and field map.
func InfoCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Info(), component, fields).Msg(msg)
}

// InfoC logs an info-level message tagged with a component, no fields.
func InfoC(component, msg string) {
	current().Info().Str("component", component).Msg(msg)
}

// WarnCF logs a warn-level message tagged with a component and field map.
func WarnCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Warn(), component, fields).Msg(msg)
}

// ErrorCF logs an error-level message tagged with a component and field map.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Error(), component, fields).Msg(msg)
}

// DebugCF logs a debug-level message tagged with a component and field map.
func DebugCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Debug(), component, fields).Msg(msg)
}

// DebugC logs a debug-level message tagged with a component, no fields.
func DebugC(component, msg string) {
	current().Debug().Str("component", component).Msg(msg)
}
