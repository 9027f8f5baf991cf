package tcpserver

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewServer_DefaultLocalhostAddress(t *testing.T) {
	t.Parallel()

	s := NewServer("", ServerConfig{})
	if got := s.Addr(); got != "127.0.0.1:4000" {
		t.Fatalf("Addr() = %q, want %q", got, "127.0.0.1:4000")
	}
}

func TestNewServer_UsesConfiguredAddressAndBuffers(t *testing.T) {
	t.Parallel()

	s := NewServer("0.0.0.0:5000", ServerConfig{
		LineChannelSize: 64,
		MaxLineSize:     2048,
	})

	if got := s.Addr(); got != "0.0.0.0:5000" {
		t.Fatalf("Addr() = %q, want %q", got, "0.0.0.0:5000")
	}
	if got := cap(s.lineChan); got != 64 {
		t.Fatalf("line channel cap = %d, want %d", got, 64)
	}
	if got := s.maxLineSize; got != 2048 {
		t.Fatalf("max line size = %d, want %d", got, 2048)
	}
}

func TestServer_ReceivesLines(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", ServerConfig{Logger: zap.NewNop()})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	fmt.Fprint(conn, "first\n\n{\"msg\":\"second\"}\n")
	conn.Close()

	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case env := <-s.Lines():
			if env.Source != SourceName {
				t.Fatalf("source = %q, want %q", env.Source, SourceName)
			}
			got = append(got, env.Line)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "first" || got[1] != `{"msg":"second"}` {
		t.Fatalf("lines = %v", got)
	}

	s.Stop()
	s.Stop()
	if _, ok := <-s.Lines(); ok {
		t.Fatal("Lines should be closed after Stop")
	}
}

func TestServer_DropsOversizedLine(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", ServerConfig{MaxLineSize: 16, Logger: zap.NewNop()})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprint(conn, "ok\n"+strings.Repeat("x", 64)+"\n")

	select {
	case env := <-s.Lines():
		if env.Line != "ok" {
			t.Fatalf("line = %q, want ok", env.Line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("server should close the connection after an oversized line")
	}
}
