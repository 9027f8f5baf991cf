package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinytelemetry/doctarget/internal/ingest"
	"github.com/tinytelemetry/doctarget/internal/model"
)

var sourceProperty = model.Property{Key: ingest.SourceProperty, Value: "http"}

// decodeEvents parses a request body holding one JSON object, an array of
// objects, or newline-delimited objects. OTLP/JSON exports are accepted too.
func decodeEvents(body []byte) ([]*model.LogEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		var events []*model.LogEvent
		for i, item := range items {
			parsed, ok := ingest.ParseJSONLogEntries(string(item))
			if !ok {
				return nil, fmt.Errorf("item %d is not a JSON object", i)
			}
			events = append(events, parsed...)
		}
		return events, nil
	}

	if parsed, ok := ingest.ParseJSONLogEntries(string(body)); ok {
		return parsed, nil
	}

	var events []*model.LogEvent
	for i, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		parsed, ok := ingest.ParseJSONLogEntries(string(line))
		if !ok {
			return nil, fmt.Errorf("line %d is not a JSON object", i+1)
		}
		events = append(events, parsed...)
	}
	return events, nil
}
