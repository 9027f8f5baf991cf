package hostlog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/tinytelemetry/doctarget/internal/model"
)

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// Level is the minimum enabled level. Nil means slog.LevelInfo.
	Level slog.Leveler
	// Logger names events that carry no "logger" attribute.
	Logger string
	// AddSource records the call site as the "source" property.
	AddSource bool
	// OnError receives the write outcome of every record that failed.
	OnError func(error)
}

// Handler is a slog.Handler writing to a Sink.
type Handler struct {
	sink   Sink
	opts   HandlerOptions
	attrs  []slog.Attr
	prefix string
}

// NewHandler creates a handler. It panics if sink is nil.
func NewHandler(sink Sink, opts HandlerOptions) *Handler {
	if sink == nil {
		panic("hostlog: nil sink")
	}
	return &Handler{sink: sink, opts: opts}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ev := &model.LogEvent{
		Timestamp: ts.UTC(),
		Level:     levelFromSlog(r.Level),
		Logger:    h.opts.Logger,
		Message:   r.Message,
	}

	c := collector{ev: ev}
	for _, a := range h.attrs {
		c.add(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		c.add(h.prefix+a.Key, a.Value)
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		ev.Properties = append(ev.Properties, model.Property{Key: "source", Value: fmt.Sprintf("%s:%d", f.File, f.Line)})
	}

	var done func(error)
	if h.opts.OnError != nil {
		done = func(err error) {
			if err != nil {
				h.opts.OnError(err)
			}
		}
	}
	return h.sink.Add(ev, done)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *Handler) clone() *Handler {
	h2 := *h
	h2.attrs = slices.Clip(h.attrs)
	return &h2
}

type collector struct {
	ev *model.LogEvent
}

func (c *collector) add(key string, v slog.Value) {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		prefix := key
		if prefix != "" {
			prefix += "."
		}
		for _, a := range v.Group() {
			c.add(prefix+a.Key, a.Value)
		}
		return
	case slog.KindAny:
		if err, ok := v.Any().(error); ok && c.ev.Error == nil {
			c.ev.Error = model.NewErrorInfo(err)
			return
		}
	case slog.KindString:
		if key == loggerKey {
			c.ev.Logger = v.String()
			return
		}
	}
	if key == "" {
		return
	}
	c.ev.Properties = append(c.ev.Properties, model.Property{Key: key, Value: v.Any()})
}

func levelFromSlog(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return model.LevelTrace
	case l < slog.LevelInfo:
		return model.LevelDebug
	case l < slog.LevelWarn:
		return model.LevelInfo
	case l < slog.LevelError:
		return model.LevelWarn
	case l < slog.LevelError+4:
		return model.LevelError
	default:
		return model.LevelFatal
	}
}
