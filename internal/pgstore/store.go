// Package pgstore writes documents as JSONB rows in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/model"
	"go.uber.org/zap"
)

// Config describes the target table.
type Config struct {
	ServerAddress string
	// DatabaseName overrides the database named in the connection string.
	DatabaseName   string
	CollectionName string
	// MaxItems, when positive, keeps only the newest MaxItems rows.
	MaxItems int64
	Logger   *zap.Logger
}

// Store is a PostgreSQL-backed document store. Each collection is a table.
type Store struct {
	pool     *pgxpool.Pool
	table    string
	maxItems int64
	logger   *zap.Logger
}

// Open connects, pings, and creates the collection table if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.ServerAddress) == "" {
		return nil, errors.New("pgstore: server address is empty")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}
	if name := strings.TrimSpace(cfg.DatabaseName); name != "" {
		poolConfig.ConnConfig.Database = name
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = model.DefaultCollectionName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}

	s := &Store{
		pool:     pool,
		table:    TableIdentifier(collection),
		maxItems: cfg.MaxItems,
		logger:   logger.Named("pgstore"),
	}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info("connected",
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.String("table", s.table),
	)
	return s, nil
}

// TableIdentifier quotes a collection name for use as a table name.
func TableIdentifier(collection string) string {
	return pgx.Identifier{collection}.Sanitize()
}

func (s *Store) ensureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          BIGSERIAL PRIMARY KEY,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		document    JSONB NOT NULL
	)`, s.table))
	if err != nil {
		return fmt.Errorf("pgstore: create table %s: %w", s.table, err)
	}
	return nil
}

// Name identifies the backend.
func (s *Store) Name() string { return "postgres" }

// InsertDocument writes one document.
func (s *Store) InsertDocument(ctx context.Context, doc *document.Document) error {
	return s.InsertDocuments(ctx, []*document.Document{doc})
}

// InsertDocuments writes docs in order inside one transaction.
func (s *Store) InsertDocuments(ctx context.Context, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}

	insert := fmt.Sprintf(`INSERT INTO %s (document) VALUES ($1::jsonb)`, s.table)
	batch := &pgx.Batch{}
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("pgstore: encode document: %w", err)
		}
		batch.Queue(insert, string(data))
	}
	if s.maxItems > 0 {
		batch.Queue(fmt.Sprintf(`DELETE FROM %[1]s WHERE id <= (SELECT max(id) FROM %[1]s) - $1`, s.table), s.maxItems)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgstore: insert %d documents: %w", len(docs), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

// Count returns the number of rows in the collection table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}
