package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/duckdb"
	"go.uber.org/zap"
)

func TestBackendFor(t *testing.T) {
	tests := []struct {
		address string
		want    Backend
		wantErr error
	}{
		{address: "mongodb://localhost:27017/logs", want: BackendMongo},
		{address: "mongodb+srv://cluster0.example.net", want: BackendMongo},
		{address: "postgres://u:p@localhost/logs", want: BackendPostgres},
		{address: "postgresql://localhost/logs", want: BackendPostgres},
		{address: "DuckDB:///tmp/logs.db", want: BackendDuckDB},
		{address: "duckdb://", want: BackendDuckDB},
		{address: "", wantErr: ErrMissingServerAddress},
		{address: "   ", wantErr: ErrMissingServerAddress},
		{address: "localhost:27017", wantErr: ErrUnsupportedScheme},
		{address: "redis://localhost", wantErr: ErrUnsupportedScheme},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			got, err := BackendFor(tt.address)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("BackendFor(%q) error = %v, want %v", tt.address, err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("BackendFor(%q) = %q, %v; want %q", tt.address, got, err, tt.want)
			}
		})
	}
}

func TestOpen_MissingAddress(t *testing.T) {
	if _, err := Open(context.Background(), Config{}, zap.NewNop()); !errors.Is(err, ErrMissingServerAddress) {
		t.Fatalf("Open error = %v, want ErrMissingServerAddress", err)
	}
}

func TestOpen_DuckDBInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{ServerAddress: "duckdb://:memory:", CollectionName: "Events", CappedCollectionMaxItems: 10}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	if s.Name() != "duckdb" {
		t.Fatalf("Name = %q, want duckdb", s.Name())
	}

	doc := document.New()
	doc.Set(document.KeyDate, document.Timestamp(time.Now()))
	doc.SetString(document.KeyMessage, "routed")
	if err := s.InsertDocuments(ctx, []*document.Document{doc}); err != nil {
		t.Fatalf("InsertDocuments: %v", err)
	}

	db, ok := s.Store.(*duckdb.Store)
	if !ok {
		t.Fatalf("Store type = %T, want *duckdb.Store", s.Store)
	}
	if db.Collection() != "Events" {
		t.Fatalf("Collection = %q", db.Collection())
	}
	if n, _ := db.CountDocuments(ctx); n != 1 {
		t.Fatalf("CountDocuments = %d, want 1", n)
	}
}
