package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/doctarget/internal/model"
	"go.uber.org/zap"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// SourceMultiplexer merges multiple log sources into a single read-only stream.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	sources []NamedLogSource
	counts  []atomic.Int64
	lines   chan model.IngestEnvelope

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []NamedLogSource, buffer int, logger *zap.Logger) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	if logger == nil {
		logger = zap.L()
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("mux"),
		sources: sources,
		counts:  make([]atomic.Int64, len(sources)),
		lines:   make(chan model.IngestEnvelope, buffer),
	}
}

func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		if len(m.sources) == 0 {
			m.closeOutput()
			return
		}

		for i := range m.sources {
			m.wg.Add(1)
			go m.forward(i)
		}

		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

// Counts returns the number of lines forwarded per source name.
func (m *SourceMultiplexer) Counts() map[string]int64 {
	out := make(map[string]int64, len(m.sources))
	for i, src := range m.sources {
		out[src.Name()] += m.counts[i].Load()
	}
	return out
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope {
	return m.lines
}

func (m *SourceMultiplexer) forward(i int) {
	defer m.wg.Done()
	src := m.sources[i]

	sourceLines := src.Lines()
	for {
		select {
		case <-m.ctx.Done():
			return
		case line, ok := <-sourceLines:
			if !ok {
				m.logger.Info("source closed", zap.String("source", src.Name()), zap.Int64("lines", m.counts[i].Load()))
				return
			}
			if line.Line == "" {
				continue
			}
			if line.Source == "" {
				line.Source = src.Name()
			}
			m.counts[i].Add(1)
			select {
			case m.lines <- line:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.lines)
	})
}
