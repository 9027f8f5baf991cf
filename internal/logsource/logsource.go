// Package logsource provides the line sources the daemon reads from.
package logsource

import "github.com/tinytelemetry/doctarget/internal/model"

// LogSource is a unified interface for all log input sources.
type LogSource interface {
	Lines() <-chan model.IngestEnvelope
	Stop()
	Name() string
}
