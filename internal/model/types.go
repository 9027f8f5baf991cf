package model

import (
	"reflect"
	"time"
)

// Canonical level names carried on LogEvent.Level.
const (
	LevelTrace = "Trace"
	LevelDebug = "Debug"
	LevelInfo  = "Info"
	LevelWarn  = "Warn"
	LevelError = "Error"
	LevelFatal = "Fatal"
)

// LogEvent is one already-formatted log event handed over by a host logger.
// It is the canonical type for the builder, the buffer journal, and transport.
// Empty strings and a nil Error mean "absent".
type LogEvent struct {
	Timestamp  time.Time  `json:"timestamp"`
	Level      string     `json:"level,omitempty"`
	Logger     string     `json:"logger,omitempty"`
	Message    string     `json:"message,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	Properties []Property `json:"properties,omitempty"`
}

// Property is one caller-supplied named value attached to an event.
// An empty Key or a nil Value marks the pair as absent.
type Property struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// IsNil reports whether v is nil or a nil pointer, map, slice, func, chan,
// or interface boxed in a non-nil interface. Such values are absent.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

// HasProperties reports whether the event carries any property pairs.
func (e *LogEvent) HasProperties() bool {
	return e != nil && len(e.Properties) > 0
}

// Property returns the last value stored under key.
func (e *LogEvent) Property(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	for i := len(e.Properties) - 1; i >= 0; i-- {
		if e.Properties[i].Key == key {
			return e.Properties[i].Value, e.Properties[i].Value != nil
		}
	}
	return nil, false
}

// AsyncLogEvent pairs an event with the continuation that receives its
// write outcome. Continuation may be nil.
type AsyncLogEvent struct {
	Event        *LogEvent
	Continuation func(error)
}

// Done reports the write outcome to the continuation, if any.
func (a AsyncLogEvent) Done(err error) {
	if a.Continuation != nil {
		a.Continuation(err)
	}
}
