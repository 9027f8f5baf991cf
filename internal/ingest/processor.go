package ingest

import (
	"strings"
	"sync"

	"github.com/tinytelemetry/doctarget/internal/model"
)

// Processor parses lines into events and routes them to a sink.
// Multi-line JSON objects are accumulated per source until balanced.
type Processor struct {
	sink Sink

	mu         sync.Mutex
	sourceName string
	pending    map[string]*jsonAccumulator
}

type jsonAccumulator struct {
	buf   strings.Builder
	depth int
}

// NewProcessor creates a parsing processor.
func NewProcessor(sink Sink, sourceName string) *Processor {
	return &Processor{
		sink:       sink,
		sourceName: sourceName,
		pending:    make(map[string]*jsonAccumulator),
	}
}

func (p *Processor) Name() string { return ProcessorModeParse }

// ProcessLine processes an untagged line using the processor source name.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// ProcessEnvelope processes one source-tagged line. It returns nil for blank
// lines and while a multi-line JSON object is incomplete.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	p.mu.Lock()
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	complete, consumed := p.accumulate(source, env.Line)
	p.mu.Unlock()

	if consumed && complete == "" {
		return nil
	}
	line := env.Line
	if consumed {
		line = complete
	}
	events := ParseLine(line)
	if len(events) == 0 {
		return nil
	}
	return deliver(p.sink, source, events)
}

// accumulate buffers lines of a JSON object that spans several lines.
// consumed reports whether the line was taken by the accumulator; complete
// is the whole object once its braces balance. Must hold p.mu.
func (p *Processor) accumulate(source, line string) (complete string, consumed bool) {
	acc, open := p.pending[source]
	if !open {
		if !strings.HasPrefix(strings.TrimSpace(line), "{") {
			return "", false
		}
		depth := CountJSONDepth(line)
		if depth <= 0 {
			return line, true
		}
		acc = &jsonAccumulator{depth: depth}
		acc.buf.WriteString(line)
		acc.buf.WriteByte('\n')
		p.pending[source] = acc
		return "", true
	}

	acc.buf.WriteString(line)
	acc.buf.WriteByte('\n')
	acc.depth += CountJSONDepth(line)
	if acc.depth > 0 {
		return "", true
	}
	delete(p.pending, source)
	return strings.TrimSpace(acc.buf.String()), true
}

// Flush emits any incomplete multi-line objects as text events.
func (p *Processor) Flush() []*ProcessResult {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*jsonAccumulator)
	p.mu.Unlock()

	var results []*ProcessResult
	for source, acc := range pending {
		ev := CreateFallbackLogEntry(strings.TrimSpace(acc.buf.String()))
		results = append(results, deliver(p.sink, source, []*model.LogEvent{ev}))
	}
	return results
}

// SetSourceName updates the default source name for untagged lines.
func (p *Processor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}
