package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/duckdb"
	"github.com/tinytelemetry/doctarget/internal/ingest"
	"github.com/tinytelemetry/doctarget/internal/logsource"
	"github.com/tinytelemetry/doctarget/internal/target"
	"github.com/tinytelemetry/doctarget/internal/tcpserver"
	"go.uber.org/zap"
)

type pipelineStack struct {
	store  *duckdb.Store
	buffer *target.Buffer
	tcp    *tcpserver.Server
}

func startPipeline(t *testing.T) *pipelineStack {
	t.Helper()
	logger := zap.NewNop()

	store, err := duckdb.Open(context.Background(), duckdb.Config{Logger: logger})
	if err != nil {
		t.Fatalf("duckdb.Open: %v", err)
	}
	tgt, err := target.New(store, target.Config{Logger: logger})
	if err != nil {
		t.Fatalf("target.New: %v", err)
	}
	buffer := target.NewBuffer(tgt, target.BufferConfig{
		BatchSize:     64,
		FlushInterval: 20 * time.Millisecond,
		Logger:        logger,
	})

	tcp := tcpserver.NewServer("127.0.0.1:0", tcpserver.ServerConfig{Logger: logger})
	if err := tcp.Start(); err != nil {
		t.Fatalf("tcp Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mux := NewSourceMultiplexer(ctx, []NamedLogSource{logsource.NewTCPSource(tcp)}, 64, logger)
	mux.Start()

	processor := ingest.NewProcessor(buffer, "")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range mux.Lines() {
			processor.ProcessEnvelope(env)
		}
		processor.Flush()
	}()

	t.Cleanup(func() {
		cancel()
		mux.Stop()
		<-done
		buffer.Stop()
		_ = store.Close(context.Background())
	})
	return &pipelineStack{store: store, buffer: buffer, tcp: tcp}
}

func sendTCPLines(t *testing.T, addr string, lines []string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("dial tcp %s: %v", addr, err)
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			t.Fatalf("write line: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func waitForDocuments(t *testing.T, store *duckdb.Store, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := store.CountDocuments(context.Background())
		if err == nil && n >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("documents = %d (err %v), want %d", n, err, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPipeline_TCPToStore(t *testing.T) {
	stack := startPipeline(t)

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf(`{"level":"warn","msg":"burst-%d","logger":"load","request.id":%d}`, i, i))
	}
	lines = append(lines,
		"2024-03-01T10:00:00Z ERROR disk full",
		`{"msg":"multi",`,
		`"level":"info"}`,
	)
	sendTCPLines(t, stack.tcp.Addr(), lines)
	waitForDocuments(t, stack.store, 22)

	docs, err := stack.store.RecentDocuments(context.Background(), 50, "Error")
	if err != nil {
		t.Fatalf("RecentDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("error documents = %d, want 1", len(docs))
	}
	var doc map[string]any
	if err := json.Unmarshal(docs[0].Document, &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if msg, _ := doc[document.KeyMessage].(string); msg == "" {
		t.Fatalf("document = %v, want a message", doc)
	}

	warn, err := stack.store.RecentDocuments(context.Background(), 50, "Warn")
	if err != nil {
		t.Fatalf("RecentDocuments: %v", err)
	}
	if len(warn) != 20 {
		t.Fatalf("warn documents = %d, want 20", len(warn))
	}
	if err := json.Unmarshal(warn[0].Document, &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	props, _ := doc[document.KeyProperties].(map[string]any)
	if _, ok := props["request_id"]; !ok {
		t.Fatalf("properties = %v, want request_id", props)
	}
	if props[ingest.SourceProperty] != tcpserver.SourceName {
		t.Fatalf("source = %v, want %q", props[ingest.SourceProperty], tcpserver.SourceName)
	}
}

func TestPipeline_FlushDrainsBuffer(t *testing.T) {
	stack := startPipeline(t)

	sendTCPLines(t, stack.tcp.Addr(), []string{"plain one", "plain two"})
	waitForDocuments(t, stack.store, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := stack.buffer.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st := stack.buffer.Stats(); st.Pending != 0 {
		t.Fatalf("pending = %d after flush", st.Pending)
	}
}
