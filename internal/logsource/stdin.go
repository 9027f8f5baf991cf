package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/tinytelemetry/doctarget/internal/model"
	"go.uber.org/zap"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single stdin line.
	DefaultStdinMaxLineSize = 1024 * 1024
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

// StdinSource reads log lines from stdin.
type StdinSource struct {
	name   string
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
}

// NewStdinSource creates a StdinSource that reads from stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf StdinConfig) *StdinSource {
	return newReaderSource(ctx, "stdin", os.Stdin, conf)
}

func newReaderSource(ctx context.Context, name string, r io.Reader, conf StdinConfig) *StdinSource {
	if conf.BufferSize <= 0 {
		conf.BufferSize = DefaultStdinBuffer
	}
	if conf.MaxLineSize <= 0 {
		conf.MaxLineSize = DefaultStdinMaxLineSize
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		name:   name,
		ch:     make(chan model.IngestEnvelope, conf.BufferSize),
		cancel: cancel,
	}
	go s.read(ctx, r, conf.MaxLineSize)
	return s
}

func (s *StdinSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)
	logger := zap.L().Named("logsource").With(zap.String("source", s.name))

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	// The scan blocks, so it runs in its own goroutine and cancellation is
	// observed here.
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				logger.Warn("line exceeded max size, stopping source", zap.Int("max_line_size", maxLineSize))
				return
			}
			logger.Warn("read failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.name, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Stop()                              { s.cancel() }
func (s *StdinSource) Name() string                       { return s.name }
