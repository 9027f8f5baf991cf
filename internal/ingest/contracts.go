package ingest

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/doctarget/internal/model"
)

// Processor modes.
const (
	ProcessorModeParse       = "parse"
	ProcessorModePassthrough = "passthrough"
)

// SourceProperty is the property key carrying the input source name.
const SourceProperty = "source"

// Sink accepts parsed events. *target.Buffer implements it.
type Sink interface {
	Add(ev *model.LogEvent, done func(error)) error
}

// EnvelopeProcessor consumes source-tagged ingest lines and emits events.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
}

// ProcessResult holds the events produced by one input line. Events is
// empty while a multi-line JSON object is still being accumulated.
type ProcessResult struct {
	Events []*model.LogEvent
	// Rejected counts events the sink refused.
	Rejected int
}

// NewEnvelopeProcessor creates the processor for mode. An empty mode parses.
func NewEnvelopeProcessor(mode string, sink Sink, sourceName string) (EnvelopeProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ProcessorModeParse:
		return NewProcessor(sink, sourceName), nil
	case ProcessorModePassthrough:
		return NewPassthroughProcessor(sink, sourceName), nil
	default:
		return nil, fmt.Errorf("ingest: unknown processor mode %q", mode)
	}
}

// deliver tags each event with source and hands it to sink.
func deliver(sink Sink, source string, events []*model.LogEvent) *ProcessResult {
	result := &ProcessResult{Events: events}
	for _, ev := range events {
		if source != "" {
			if _, ok := ev.Property(SourceProperty); !ok {
				ev.Properties = append(ev.Properties, model.Property{Key: SourceProperty, Value: source})
			}
		}
		if sink == nil {
			continue
		}
		if err := sink.Add(ev, nil); err != nil {
			result.Rejected++
		}
	}
	return result
}
