package duckdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tinytelemetry/doctarget/internal/document"
	"go.uber.org/zap"
)

// ErrBatchRejected is returned when no document of a batch could be stored.
var ErrBatchRejected = errors.New("duckdb: every document in the batch was rejected")

type row struct {
	id    string
	level any
	json  []byte
}

// InsertDocument stores one document.
func (s *Store) InsertDocument(ctx context.Context, doc *document.Document) error {
	r, err := encode(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertBatchTx(ctx, []row{r})
}

// InsertDocuments stores docs in a single transaction. If the transaction
// fails, documents are retried one by one so a bad document only costs
// itself. The batch fails only when nothing could be stored.
func (s *Store) InsertDocuments(ctx context.Context, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}

	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		r, err := encode(doc)
		if err != nil {
			s.logger.Warn("dropping unencodable document", zap.Error(err))
			continue
		}
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		return ErrBatchRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, rows)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	var failed int
	var lastErr error
	for _, r := range rows {
		if rerr := s.insertBatchTx(ctx, []row{r}); rerr != nil {
			failed++
			lastErr = rerr
			s.logger.Warn("dropping document", zap.String("id", r.id), zap.Error(rerr))
		}
	}
	if failed == len(rows) {
		return fmt.Errorf("%w: %w", ErrBatchRejected, lastErr)
	}
	if failed > 0 {
		s.logger.Warn("batch partially failed", zap.Int("dropped", failed), zap.Int("total", len(rows)))
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, rows []row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_documents (id, collection, inserted_at, level, size_bytes, document) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.id, s.collection, now, r.level, len(r.json), string(r.json)); err != nil {
			return fmt.Errorf("document insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func encode(doc *document.Document) (row, error) {
	if doc == nil {
		return row{}, errors.New("duckdb: nil document")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return row{}, fmt.Errorf("duckdb: encode document: %w", err)
	}
	r := row{id: uuid.NewString(), json: data}
	if v, ok := doc.Get(document.KeyLevel); ok && v.Kind() == document.KindString {
		r.level = v.Str()
	}
	return r, nil
}
