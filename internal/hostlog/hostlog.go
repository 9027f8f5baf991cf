// Package hostlog adapts host logging libraries to the document target.
// Records become events and are handed to a Sink, typically *target.Buffer.
package hostlog

import (
	"context"

	"github.com/tinytelemetry/doctarget/internal/model"
)

// Sink accepts events from a host logger.
type Sink interface {
	Add(ev *model.LogEvent, done func(error)) error
}

type flusher interface {
	Flush(ctx context.Context) error
}

// Attribute keys that map onto event fields instead of properties.
const (
	loggerKey = "logger"
	errorKey  = "error"
)
