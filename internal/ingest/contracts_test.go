package ingest

import (
	"errors"
	"sync"
	"testing"

	"github.com/tinytelemetry/doctarget/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*model.LogEvent
	err    error
}

func (s *recordingSink) Add(ev *model.LogEvent, _ func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func sourceOf(t *testing.T, ev *model.LogEvent) string {
	t.Helper()
	v, _ := ev.Property(SourceProperty)
	s, _ := v.(string)
	return s
}

func TestNewEnvelopeProcessor_DefaultParse(t *testing.T) {
	t.Parallel()

	p, err := NewEnvelopeProcessor("", nil, "")
	if err != nil {
		t.Fatalf("NewEnvelopeProcessor returned error: %v", err)
	}
	if p.Name() != ProcessorModeParse {
		t.Fatalf("processor name = %q, want %q", p.Name(), ProcessorModeParse)
	}
	if _, ok := p.(*Processor); !ok {
		t.Fatalf("processor type = %T, want *Processor", p)
	}
}

func TestNewEnvelopeProcessor_Passthrough(t *testing.T) {
	t.Parallel()

	p, err := NewEnvelopeProcessor("Passthrough", nil, "")
	if err != nil {
		t.Fatalf("NewEnvelopeProcessor returned error: %v", err)
	}
	if p.Name() != ProcessorModePassthrough {
		t.Fatalf("processor name = %q, want %q", p.Name(), ProcessorModePassthrough)
	}
	if _, ok := p.(*PassthroughProcessor); !ok {
		t.Fatalf("processor type = %T, want *PassthroughProcessor", p)
	}
}

func TestNewEnvelopeProcessor_InvalidMode(t *testing.T) {
	t.Parallel()

	if _, err := NewEnvelopeProcessor("unknown", nil, ""); err == nil {
		t.Fatal("expected error for invalid processor mode")
	}
}

func TestPassthroughProcessor_ProcessEnvelope_UsesDefaultSource(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPassthroughProcessor(sink, "stdin")

	result := p.ProcessEnvelope(model.IngestEnvelope{Line: `{"msg":"hello world"}`})
	if result == nil || len(result.Events) != 1 {
		t.Fatal("expected one event")
	}
	if got := len(sink.events); got != 1 {
		t.Fatalf("sink events = %d, want 1", got)
	}

	ev := sink.events[0]
	if got := sourceOf(t, ev); got != "stdin" {
		t.Fatalf("source = %q, want %q", got, "stdin")
	}
	if ev.Message != `{"msg":"hello world"}` {
		t.Fatalf("message = %q, passthrough must not parse JSON", ev.Message)
	}
}

func TestPassthroughProcessor_ProcessEnvelope_SourceOverride(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPassthroughProcessor(sink, "stdin")

	if result := p.ProcessEnvelope(model.IngestEnvelope{Source: "tcp", Line: "hello"}); result == nil {
		t.Fatal("expected non-nil process result")
	}
	if got := sourceOf(t, sink.events[0]); got != "tcp" {
		t.Fatalf("source = %q, want %q", got, "tcp")
	}
	if result := p.ProcessEnvelope(model.IngestEnvelope{Source: "tcp"}); result != nil {
		t.Fatal("empty line should produce no result")
	}
}

func TestProcessor_MultiLineJSON(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(sink, "stdin")

	lines := []string{`{`, `  "level": "warn",`, `  "msg": "disk {almost} full",`, `  "ctx": {"pct": 91}`, `}`}
	for i, line := range lines[:len(lines)-1] {
		if result := p.ProcessLine(line); result != nil {
			t.Fatalf("line %d: expected accumulation, got %+v", i, result)
		}
	}
	result := p.ProcessLine(lines[len(lines)-1])
	if result == nil || len(result.Events) != 1 {
		t.Fatalf("closing line should complete the object, got %+v", result)
	}

	ev := sink.events[0]
	if ev.Level != model.LevelWarn || ev.Message != "disk {almost} full" {
		t.Fatalf("event = %+v", ev)
	}
	if got := sourceOf(t, ev); got != "stdin" {
		t.Fatalf("source = %q", got)
	}
}

func TestProcessor_InterleavedSources(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(sink, "")

	p.ProcessEnvelope(model.IngestEnvelope{Source: "a", Line: `{"msg":`})
	if r := p.ProcessEnvelope(model.IngestEnvelope{Source: "b", Line: "plain from b"}); r == nil || len(r.Events) != 1 {
		t.Fatal("text from another source should not join the pending object")
	}
	if r := p.ProcessEnvelope(model.IngestEnvelope{Source: "a", Line: `"from a"}`}); r == nil || len(r.Events) != 1 {
		t.Fatal("object from source a should complete")
	}
	if len(sink.events) != 2 || sink.events[1].Message != "from a" {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestProcessor_FlushIncomplete(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(sink, "stdin")
	p.ProcessLine(`{"msg": "never closed",`)

	results := p.Flush()
	if len(results) != 1 || len(sink.events) != 1 {
		t.Fatalf("flush results = %d, events = %d", len(results), len(sink.events))
	}
	if sink.events[0].Message != `{"msg": "never closed",` {
		t.Fatalf("message = %q", sink.events[0].Message)
	}
	if len(p.Flush()) != 0 {
		t.Fatal("second flush should be empty")
	}
}

func TestProcessor_SinkRejects(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{err: errors.New("stopped")}
	p := NewProcessor(sink, "stdin")
	result := p.ProcessLine("hello")
	if result == nil || result.Rejected != 1 {
		t.Fatalf("result = %+v, want one rejected event", result)
	}
}
