// Package target turns log events into documents and hands them to a store.
package target

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/model"
	"go.uber.org/zap"
)

// ErrFatal marks errors that must propagate to the caller instead of only
// being reported to continuations.
var ErrFatal = errors.New("target: fatal")

// ErrNoStore is returned by New when no store is supplied.
var ErrNoStore = errors.New("target: store is nil")

// Store is the write side of a document store.
type Store interface {
	InsertDocument(ctx context.Context, doc *document.Document) error
	InsertDocuments(ctx context.Context, docs []*document.Document) error
}

// Config holds the target's tunables.
type Config struct {
	Builder *document.Builder
	// ThrowExceptions propagates every write error to the caller.
	ThrowExceptions bool
	// WriteTimeout bounds one store call. Zero means model.DefaultWriteTimeout.
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Stats is a snapshot of the target's counters.
type Stats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// Target writes events through a Builder into a Store.
type Target struct {
	store   Store
	builder *document.Builder
	throw   bool
	timeout time.Duration
	logger  *zap.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

// New creates a target. A nil builder means the default document shape.
func New(store Store, cfg Config) (*Target, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	builder := cfg.Builder
	if builder == nil {
		builder = document.NewBuilder(document.Options{IncludeDefaults: true, IncludeEventProperties: true})
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = model.DefaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	return &Target{
		store:   store,
		builder: builder,
		throw:   cfg.ThrowExceptions,
		timeout: timeout,
		logger:  logger.Named("target"),
	}, nil
}

// Builder returns the builder the target renders documents with.
func (t *Target) Builder() *document.Builder { return t.builder }

// Write builds one document and stores it with a single insert.
func (t *Target) Write(ctx context.Context, ev model.AsyncLogEvent) error {
	doc, err := t.builder.Build(ev.Event)
	if err != nil {
		t.logger.Error("error when writing", zap.Error(err))
		t.failed.Add(1)
		ev.Done(err)
		return t.propagate(err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.store.InsertDocument(ctx, doc); err != nil {
		t.logger.Error("error when writing document", zap.Error(err))
		t.failed.Add(1)
		ev.Done(err)
		return t.propagate(err)
	}
	t.written.Add(1)
	ev.Done(nil)
	return nil
}

// WriteBatch builds documents in order and stores them with one bulk insert.
// Events that fail to build are reported and skipped. A failed insert is
// reported to every remaining event; nothing is retried.
func (t *Target) WriteBatch(ctx context.Context, events []model.AsyncLogEvent) error {
	if len(events) == 0 {
		return nil
	}

	var fatal error
	docs := make([]*document.Document, 0, len(events))
	built := make([]model.AsyncLogEvent, 0, len(events))
	for _, ev := range events {
		doc, err := t.builder.Build(ev.Event)
		if err != nil {
			t.logger.Error("error when writing", zap.Error(err))
			t.failed.Add(1)
			ev.Done(err)
			if fatal == nil {
				fatal = t.propagate(err)
			}
			continue
		}
		docs = append(docs, doc)
		built = append(built, ev)
	}
	if len(docs) == 0 {
		return fatal
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.store.InsertDocuments(ctx, docs); err != nil {
		t.logger.Error("error when writing batch",
			zap.Int("documents", len(docs)),
			zap.Error(err),
		)
		t.failed.Add(uint64(len(built)))
		for _, ev := range built {
			ev.Done(err)
		}
		if fatal == nil {
			fatal = t.propagate(err)
		}
		return fatal
	}

	t.written.Add(uint64(len(built)))
	for _, ev := range built {
		ev.Done(nil)
	}
	return fatal
}

// Stats returns the written and failed counters.
func (t *Target) Stats() Stats {
	return Stats{Written: t.written.Load(), Failed: t.failed.Load()}
}

func (t *Target) propagate(err error) error {
	if t.throw || errors.Is(err, ErrFatal) {
		return err
	}
	return nil
}
