package ingest

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/logparse"
	"github.com/tinytelemetry/doctarget/internal/model"
	"github.com/tinytelemetry/doctarget/internal/otlp"
	"github.com/tinytelemetry/doctarget/internal/timestamp"
)

// Field aliases recognized in flat JSON log lines, in priority order.
var (
	timeKeys    = []string{"@timestamp", "timestamp", "time", "ts", "date"}
	levelKeys   = []string{"level", "severity", "lvl", "loglevel", "@l"}
	loggerKeys  = []string{"logger", "logger_name", "loggerName", "name", "module", "caller"}
	messageKeys = []string{"message", "msg", "@m", "text"}
	errorKeys   = []string{"error", "err", "exception", "@x"}
)

var tsParser = timestamp.NewParser()

// ParseLine turns one complete input line into events. JSON lines are read
// as an OTLP/JSON export or a flat structured log; anything else is text.
func ParseLine(line string) []*model.LogEvent {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		if events, ok := ParseJSONLogEntries(trimmed); ok {
			return events
		}
	}
	return []*model.LogEvent{CreateFallbackLogEntry(line)}
}

// ParseJSONLogEntries parses a JSON object line. ok is false when the line
// is not a JSON object.
func ParseJSONLogEntries(line string) ([]*model.LogEvent, bool) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}

	if _, ok := raw["resourceLogs"]; ok {
		events, err := otlp.EventsFromJSON([]byte(line))
		if err != nil {
			return nil, false
		}
		return events, true
	}
	return []*model.LogEvent{eventFromJSON(raw)}, true
}

// ParseJSONLogEntry parses a JSON line into a single event, or nil.
func ParseJSONLogEntry(line string) *model.LogEvent {
	events, ok := ParseJSONLogEntries(line)
	if !ok || len(events) == 0 {
		return nil
	}
	return events[0]
}

func eventFromJSON(raw map[string]any) *model.LogEvent {
	ev := &model.LogEvent{}

	if key, v := take(raw, timeKeys); key != "" {
		if ts, ok := tsParser.ParseTimestamp(v); ok {
			ev.Timestamp = ts
		} else {
			raw[key] = v
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	ev.Level = model.LevelInfo
	if _, v := take(raw, levelKeys); v != nil {
		ev.Level = levelFromJSON(v)
	}
	if _, v := take(raw, loggerKeys); v != nil {
		ev.Logger = document.Stringify(v)
	}
	if _, v := take(raw, messageKeys); v != nil {
		ev.Message = sanitizeLogMessage(document.Stringify(v))
	}
	if _, v := take(raw, errorKeys); v != nil {
		ev.Error = errorFromJSON(v)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if raw[k] == nil {
			continue
		}
		ev.Properties = append(ev.Properties, model.Property{Key: k, Value: raw[k]})
	}
	return ev
}

// take removes and returns the first present alias.
func take(raw map[string]any, keys []string) (string, any) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			delete(raw, k)
			return k, v
		}
	}
	return "", nil
}

func levelFromJSON(v any) string {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return logparse.LevelFromPino(int(n))
		}
	case float64:
		return logparse.LevelFromPino(int(x))
	case string:
		return logparse.NormalizeLevel(x)
	}
	return model.LevelInfo
}

// errorFromJSON accepts a plain message or an object with message/type/stack.
func errorFromJSON(v any) *model.ErrorInfo {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return &model.ErrorInfo{Message: x, BaseMessage: x}
	case map[string]any:
		info := &model.ErrorInfo{
			Message: ExtractStringField(x, "message", "msg"),
			Type:    ExtractStringField(x, "type", "kind", "name", "class"),
			Text:    ExtractStringField(x, "stack", "stacktrace", "stack_trace", "trace"),
		}
		info.BaseMessage = info.Message
		if n, ok := x["code"].(json.Number); ok {
			if code, err := n.Int64(); err == nil {
				info.Code = int(code)
			}
		}
		if *info == (model.ErrorInfo{}) {
			return nil
		}
		return info
	}
	s := document.Stringify(v)
	return &model.ErrorInfo{Message: s, BaseMessage: s}
}

// CreateFallbackLogEntry builds an event from an unstructured text line.
func CreateFallbackLogEntry(line string) *model.LogEvent {
	ts := time.Now().UTC()
	if res := tsParser.ParseFromText(strings.TrimSpace(line)); res.Found {
		ts = res.Timestamp
	}
	return &model.LogEvent{
		Timestamp: ts,
		Level:     logparse.ExtractLevelFromText(line),
		Message:   sanitizeLogMessage(line),
	}
}

func sanitizeLogMessage(message string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(message)
}

// ExtractStringField returns the first non-empty value among keys, as text.
func ExtractStringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if str := document.Stringify(v); str != "" {
				return str
			}
		}
	}
	return ""
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range []byte(line) {
		if escaped {
			escaped = false
			continue
		}
		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}
	return depth
}
