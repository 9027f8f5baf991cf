package target

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/doctarget/internal/model"
	"go.uber.org/zap"
)

// DefaultFlushQueueSize is the number of batches that can wait for the flush worker.
const DefaultFlushQueueSize = 64

const (
	defaultBatchSize     = 500
	defaultFlushInterval = 100 * time.Millisecond
)

// ErrBufferStopped is reported for events added after Stop.
var ErrBufferStopped = errors.New("target: buffer stopped")

// BatchWriter consumes batches of events. *Target implements it.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []model.AsyncLogEvent) error
}

type durableJournal interface {
	Append(ev *model.LogEvent) (uint64, error)
	Commit(seq uint64) error
	Committed() uint64
	Replay(fn func(seq uint64, ev *model.LogEvent) error) error
	Close() error
}

type pendingEvent struct {
	seq   uint64
	event model.AsyncLogEvent
}

// BufferConfig holds tunable parameters for the buffer.
type BufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	// Journal, when set, persists events until their batch is written.
	Journal durableJournal
	Logger  *zap.Logger
}

// BufferStats is a snapshot of buffer activity.
type BufferStats struct {
	Pending       int   `json:"pending"`
	Queued        int   `json:"queued"`
	Batches       int64 `json:"batches"`
	InlineFlushes int64 `json:"inline_flushes"`
	FatalErrors   int64 `json:"fatal_errors"`
}

// Buffer batches events and hands them to a BatchWriter asynchronously.
// Add never blocks on store IO unless the flush queue is full.
type Buffer struct {
	writer        BatchWriter
	logger        *zap.Logger
	journal       durableJournal
	commits       *commitTracker
	maxBatch      int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []pendingEvent
	stopped bool

	// sendMu guards flushChan against close while a sender holds it.
	sendMu    sync.RWMutex
	flushChan chan []pendingEvent
	closed    bool
	inflight  sync.WaitGroup

	done     chan struct{}
	wg       sync.WaitGroup
	tickWg   sync.WaitGroup
	stopOnce sync.Once

	batches       atomic.Int64
	inlineFlushes atomic.Int64
	fatalErrors   atomic.Int64
	lastBPLog     atomic.Int64
}

// NewBuffer starts a buffer in front of w.
func NewBuffer(w BatchWriter, cfg BufferConfig) *Buffer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	queueSize := cfg.FlushQueueSize
	if queueSize <= 0 {
		queueSize = DefaultFlushQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}

	b := &Buffer{
		writer:        w,
		logger:        logger.Named("buffer"),
		journal:       cfg.Journal,
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		pending:       make([]pendingEvent, 0, batchSize),
		flushChan:     make(chan []pendingEvent, queueSize),
		done:          make(chan struct{}),
	}
	if b.journal != nil {
		b.commits = newCommitTracker(b.journal.Committed())
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// Replay queues every uncommitted journal entry. It returns the number of
// events recovered. Replayed events have no continuation.
func (b *Buffer) Replay() (int, error) {
	if b.journal == nil {
		return 0, nil
	}
	n := 0
	err := b.journal.Replay(func(seq uint64, ev *model.LogEvent) error {
		b.enqueue(pendingEvent{seq: seq, event: model.AsyncLogEvent{Event: ev}})
		n++
		return nil
	})
	if n > 0 {
		b.logger.Info("replayed journal", zap.Int("events", n))
	}
	return n, err
}

// Add queues an event. done, if non-nil, receives the write outcome.
func (b *Buffer) Add(ev *model.LogEvent, done func(error)) error {
	item := pendingEvent{event: model.AsyncLogEvent{Event: ev, Continuation: done}}
	if b.isStopped() {
		item.event.Done(ErrBufferStopped)
		return ErrBufferStopped
	}

	if b.journal != nil {
		for {
			seq, err := b.journal.Append(ev)
			if err == nil {
				item.seq = seq
				break
			}
			b.logger.Warn("journal append failed, retrying", zap.Error(err))
			select {
			case <-b.done:
				item.event.Done(ErrBufferStopped)
				return ErrBufferStopped
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	if !b.enqueue(item) {
		item.event.Done(ErrBufferStopped)
		return ErrBufferStopped
	}
	return nil
}

func (b *Buffer) enqueue(item pendingEvent) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, item)
	var batch []pendingEvent
	if len(b.pending) >= b.maxBatch {
		batch = b.takePendingLocked()
	}
	b.mu.Unlock()

	if batch != nil {
		b.dispatch(batch)
	}
	return true
}

func (b *Buffer) takePendingLocked() []pendingEvent {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]pendingEvent, 0, b.maxBatch)
	return batch
}

// dispatch queues a batch for the flush worker, flushing inline when the
// queue is full.
func (b *Buffer) dispatch(batch []pendingEvent) {
	b.inflight.Add(1)
	b.sendMu.RLock()
	if b.closed {
		b.sendMu.RUnlock()
		b.flushBatch(batch)
		return
	}
	select {
	case b.flushChan <- batch:
		b.sendMu.RUnlock()
	default:
		b.sendMu.RUnlock()
		b.logBackpressure()
		b.flushBatch(batch)
	}
}

func (b *Buffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

func (b *Buffer) drainPending() {
	b.mu.Lock()
	batch := b.takePendingLocked()
	b.mu.Unlock()
	if batch != nil {
		b.dispatch(batch)
	}
}

func (b *Buffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		b.flushBatch(batch)
	}
}

// logBackpressure warns at most once per 10 seconds about inline flushes.
func (b *Buffer) logBackpressure() {
	count := b.inlineFlushes.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		b.logger.Warn("backpressure: flush queue full, flushing inline", zap.Int64("inline_flushes", count))
	}
}

func (b *Buffer) flushBatch(batch []pendingEvent) {
	defer b.inflight.Done()

	events := make([]model.AsyncLogEvent, len(batch))
	seqs := make([]uint64, 0, len(batch))
	for i, item := range batch {
		events[i] = item.event
		if item.seq > 0 {
			seqs = append(seqs, item.seq)
		}
	}

	b.batches.Add(1)
	if err := b.writer.WriteBatch(context.Background(), events); err != nil {
		b.fatalErrors.Add(1)
		b.logger.Error("batch write failed", zap.Int("events", len(events)), zap.Error(err))
		return
	}

	if b.commits == nil || len(seqs) == 0 {
		return
	}
	// Batches finish out of order; only a gap-free prefix may be committed.
	if mark, moved := b.commits.ack(seqs); moved {
		if err := b.journal.Commit(mark); err != nil {
			b.logger.Error("journal commit failed", zap.Uint64("seq", mark), zap.Error(err))
		}
	}
}

// Flush writes everything pending and waits for queued batches to finish.
func (b *Buffer) Flush(ctx context.Context) error {
	b.drainPending()

	idle := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop writes remaining events and waits for the flush worker. It is safe
// to call more than once.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.done)
		b.tickWg.Wait()

		b.sendMu.Lock()
		b.closed = true
		close(b.flushChan)
		b.sendMu.Unlock()

		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				b.logger.Warn("journal close failed", zap.Error(err))
			}
		}
	})
}

// Stats returns a snapshot of buffer activity.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	return BufferStats{
		Pending:       pending,
		Queued:        len(b.flushChan),
		Batches:       b.batches.Load(),
		InlineFlushes: b.inlineFlushes.Load(),
		FatalErrors:   b.fatalErrors.Load(),
	}
}

func (b *Buffer) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}
