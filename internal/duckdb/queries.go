package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// StoredDocument is one row of the document table.
type StoredDocument struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	InsertedAt time.Time       `json:"inserted_at"`
	Level      string          `json:"level,omitempty"`
	Document   json.RawMessage `json:"document"`
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Documents int64 `json:"documents"`
	Bytes     int64 `json:"bytes"`
}

// CountDocuments returns the number of documents in the store's collection.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	st, err := s.Stats(ctx)
	return st.Documents, err
}

// Stats returns the document count and stored JSON size of the collection.
func (s *Store) Stats(ctx context.Context) (CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var st CollectionStats
	var bytes sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(size_bytes) FROM log_documents WHERE collection = ?`, s.collection,
	).Scan(&st.Documents, &bytes)
	st.Bytes = bytes.Int64
	return st, err
}

// RecentDocuments returns up to limit of the newest documents, oldest first.
// A non-empty level filters on the document's Level field.
func (s *Store) RecentDocuments(ctx context.Context, limit int, level string) ([]StoredDocument, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	inner := `SELECT seq, id, collection, inserted_at, COALESCE(level, '') AS level, CAST(document AS VARCHAR) AS document
		FROM log_documents WHERE collection = ?`
	args := []any{s.collection}
	if level != "" {
		inner += ` AND lower(level) = lower(?)`
		args = append(args, level)
	}
	inner += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `SELECT id, collection, inserted_at, level, document FROM (`+inner+`) ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredDocument
	for rows.Next() {
		var d StoredDocument
		var raw string
		if err := rows.Scan(&d.ID, &d.Collection, &d.InsertedAt, &d.Level, &raw); err != nil {
			return nil, err
		}
		d.Document = json.RawMessage(raw)
		out = append(out, d)
	}
	return out, rows.Err()
}
