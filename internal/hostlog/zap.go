package hostlog

import (
	"context"
	"sort"

	"github.com/tinytelemetry/doctarget/internal/model"
	"go.uber.org/zap/zapcore"
)

type core struct {
	zapcore.LevelEnabler
	sink   Sink
	fields []zapcore.Field
}

// NewCore returns a zapcore.Core writing to sink. Combine it with other
// cores through zapcore.NewTee.
func NewCore(sink Sink, enab zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: enab, sink: sink}
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ev := &model.LogEvent{
		Timestamp: ent.Time.UTC(),
		Level:     levelFromZap(ent.Level),
		Logger:    ent.LoggerName,
		Message:   ent.Message,
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, set := range [][]zapcore.Field{c.fields, fields} {
		for _, f := range set {
			if f.Type == zapcore.ErrorType && f.Key == errorKey {
				if err, ok := f.Interface.(error); ok {
					ev.Error = model.NewErrorInfo(err)
					continue
				}
			}
			f.AddTo(enc)
		}
	}
	if ent.Caller.Defined {
		enc.Fields["caller"] = ent.Caller.TrimmedPath()
	}

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Properties = append(ev.Properties, model.Property{Key: k, Value: enc.Fields[k]})
	}
	return c.sink.Add(ev, nil)
}

func (c *core) Sync() error {
	if f, ok := c.sink.(flusher); ok {
		return f.Flush(context.Background())
	}
	return nil
}

func levelFromZap(l zapcore.Level) string {
	switch l {
	case zapcore.DebugLevel:
		return model.LevelDebug
	case zapcore.InfoLevel:
		return model.LevelInfo
	case zapcore.WarnLevel:
		return model.LevelWarn
	case zapcore.ErrorLevel:
		return model.LevelError
	default:
		if l < zapcore.DebugLevel {
			return model.LevelTrace
		}
		return model.LevelFatal
	}
}
