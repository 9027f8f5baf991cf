// Package duckdb is an embedded document store backed by DuckDB. Documents
// are kept as JSON rows tagged with their collection name.
package duckdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/tinytelemetry/doctarget/internal/duckdb/migrate"
	"github.com/tinytelemetry/doctarget/internal/model"
	"go.uber.org/zap"
)

// Config describes where the store lives and which collection it writes.
type Config struct {
	// Path of the database file. Empty means in-memory.
	Path           string
	CollectionName string
	// QueryTimeout bounds reads issued without a caller deadline.
	QueryTimeout time.Duration
	Logger       *zap.Logger
}

// Store manages the DuckDB connection for one collection.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	path         string
	collection   string
	logger       *zap.Logger
	QueryTimeout time.Duration
}

// PathFromAddress extracts the database path from a duckdb:// server address.
// "duckdb://" and "duckdb://:memory:" select an in-memory database.
func PathFromAddress(address string) string {
	path := strings.TrimPrefix(address, "duckdb://")
	if path == ":memory:" {
		return ""
	}
	return path
}

// Open opens or creates a DuckDB database and applies migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("duckdb")

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := migrate.NewRunner(db, logger).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = model.DefaultCollectionName
	}
	qt := cfg.QueryTimeout
	if qt <= 0 {
		qt = model.DefaultWriteTimeout
	}

	return &Store{
		db:           db,
		path:         cfg.Path,
		collection:   collection,
		logger:       logger,
		QueryTimeout: qt,
	}, nil
}

// Name identifies the backend.
func (s *Store) Name() string { return "duckdb" }

// Collection returns the collection documents are written to.
func (s *Store) Collection() string { return s.collection }

// Close closes the database connection.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.QueryTimeout)
}
