package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tinytelemetry/doctarget/internal/document"
	"go.uber.org/zap"
)

func TestTableIdentifier(t *testing.T) {
	tests := map[string]string{
		"Log":          `"Log"`,
		"app.logs":     `"app.logs"`,
		`weird"name`:   `"weird""name"`,
		"lower_simple": `"lower_simple"`,
	}
	for in, want := range tests {
		if got := TableIdentifier(in); got != want {
			t.Errorf("TableIdentifier(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestOpen_RequiresAddress(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty server address")
	}
}

func TestOpen_BadAddress(t *testing.T) {
	if _, err := Open(context.Background(), Config{ServerAddress: "postgres://%zz"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStore_Live(t *testing.T) {
	dsn := os.Getenv("DOCTARGET_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("DOCTARGET_TEST_POSTGRES not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	coll := "doctarget_test_" + time.Now().UTC().Format("20060102150405")
	s, err := Open(ctx, Config{ServerAddress: dsn, CollectionName: coll, MaxItems: 2, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() {
		_, _ = s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+s.table)
		_ = s.Close(context.Background())
	}()

	doc := document.New()
	doc.SetString("Level", "Info")
	doc.Set("Date", document.Timestamp(time.Now()))

	if err := s.InsertDocuments(ctx, []*document.Document{doc, doc, doc}); err != nil {
		t.Fatalf("InsertDocuments: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2 after MaxItems trim", n)
	}
}
