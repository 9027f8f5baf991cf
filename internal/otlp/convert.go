// Package otlp converts OpenTelemetry log records into log events and
// receives them over gRPC.
package otlp

import (
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/logparse"
	"github.com/tinytelemetry/doctarget/internal/model"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// Attribute keys with special meaning.
const (
	attrServiceName      = "service.name"
	attrExceptionMessage = "exception.message"
	attrExceptionType    = "exception.type"
	attrExceptionStack   = "exception.stacktrace"
	attrLoggerName       = "logger.name"
)

// EventsFromRequest converts every log record in req.
func EventsFromRequest(req *collogspb.ExportLogsServiceRequest) []*model.LogEvent {
	if req == nil {
		return nil
	}
	return EventsFromResourceLogs(req.GetResourceLogs())
}

// EventsFromJSON decodes an OTLP/JSON export request.
func EventsFromJSON(data []byte) ([]*model.LogEvent, error) {
	var req collogspb.ExportLogsServiceRequest
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return EventsFromRequest(&req), nil
}

// EventsFromResourceLogs flattens resource and scope attributes into each
// record's properties. Record attributes win over scope, scope over resource.
func EventsFromResourceLogs(resourceLogs []*logspb.ResourceLogs) []*model.LogEvent {
	now := time.Now()
	var events []*model.LogEvent
	for _, rl := range resourceLogs {
		resourceAttrs := rl.GetResource().GetAttributes()
		service := stringAttr(resourceAttrs, attrServiceName)

		for _, sl := range rl.GetScopeLogs() {
			scope := sl.GetScope()
			logger := scope.GetName()
			if logger == "" {
				logger = service
			}
			for _, lr := range sl.GetLogRecords() {
				events = append(events, convertRecord(lr, logger, now, resourceAttrs, scope.GetAttributes()))
			}
		}
	}
	return events
}

func convertRecord(lr *logspb.LogRecord, logger string, now time.Time, inherited ...[]*commonpb.KeyValue) *model.LogEvent {
	ev := &model.LogEvent{
		Timestamp: recordTime(lr, now),
		Level:     recordLevel(lr),
		Logger:    logger,
		Message:   anyString(lr.GetBody()),
	}

	var props []model.Property
	seen := map[string]int{}
	add := func(key string, value any) {
		if key == "" || value == nil {
			return
		}
		if i, ok := seen[key]; ok {
			props[i].Value = value
			return
		}
		seen[key] = len(props)
		props = append(props, model.Property{Key: key, Value: value})
	}

	for _, attrs := range inherited {
		for _, kv := range attrs {
			add(kv.GetKey(), anyValue(kv.GetValue()))
		}
	}

	var exc model.ErrorInfo
	for _, kv := range lr.GetAttributes() {
		switch kv.GetKey() {
		case attrExceptionMessage:
			exc.Message = anyString(kv.GetValue())
		case attrExceptionType:
			exc.Type = anyString(kv.GetValue())
		case attrExceptionStack:
			exc.Text = anyString(kv.GetValue())
		case attrLoggerName:
			if name := anyString(kv.GetValue()); name != "" {
				ev.Logger = name
			}
		default:
			add(kv.GetKey(), anyValue(kv.GetValue()))
		}
	}
	if exc != (model.ErrorInfo{}) {
		exc.BaseMessage = exc.Message
		ev.Error = &exc
	}

	if id := lr.GetTraceId(); len(id) > 0 {
		add("trace_id", hex.EncodeToString(id))
	}
	if id := lr.GetSpanId(); len(id) > 0 {
		add("span_id", hex.EncodeToString(id))
	}
	ev.Properties = props
	return ev
}

func recordTime(lr *logspb.LogRecord, now time.Time) time.Time {
	if ns := lr.GetTimeUnixNano(); ns > 0 {
		return time.Unix(0, int64(ns)).UTC()
	}
	if ns := lr.GetObservedTimeUnixNano(); ns > 0 {
		return time.Unix(0, int64(ns)).UTC()
	}
	return now.UTC()
}

func recordLevel(lr *logspb.LogRecord) string {
	if text := lr.GetSeverityText(); text != "" {
		return logparse.NormalizeLevel(text)
	}
	if level := logparse.LevelFromOTLPNumber(int(lr.GetSeverityNumber())); level != "" {
		return level
	}
	return model.LevelInfo
}

func stringAttr(attrs []*commonpb.KeyValue, key string) string {
	for _, kv := range attrs {
		if kv.GetKey() == key {
			return anyString(kv.GetValue())
		}
	}
	return ""
}

// anyValue maps an AnyValue onto plain Go values. Arrays and maps become
// []any and map[string]any so they stringify as JSON.
func anyValue(v *commonpb.AnyValue) any {
	if v == nil {
		return nil
	}
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return x.BoolValue
	case *commonpb.AnyValue_IntValue:
		return x.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return x.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		return base64.StdEncoding.EncodeToString(x.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		values := x.ArrayValue.GetValues()
		out := make([]any, 0, len(values))
		for _, item := range values {
			out = append(out, anyValue(item))
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		out := make(map[string]any, len(x.KvlistValue.GetValues()))
		for _, kv := range x.KvlistValue.GetValues() {
			out[kv.GetKey()] = anyValue(kv.GetValue())
		}
		return out
	default:
		return nil
	}
}

func anyString(v *commonpb.AnyValue) string {
	if s, ok := v.GetValue().(*commonpb.AnyValue_StringValue); ok {
		return s.StringValue
	}
	val := anyValue(v)
	if val == nil {
		return ""
	}
	return document.Stringify(val)
}
