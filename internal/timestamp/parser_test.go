package timestamp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseFromText_ISO8601(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC3339", "2024-01-15T10:30:45Z some log message", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"RFC3339Nano", "2024-01-15T10:30:45.123456789Z some log message", time.Date(2024, 1, 15, 10, 30, 45, 123456789, time.UTC)},
		{"RFC3339 offset", "2024-01-15T10:30:45+05:00 some log message", time.Date(2024, 1, 15, 5, 30, 45, 0, time.UTC)},
		{"space separated", "2024-01-15 10:30:45 some log message", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"millis", "2024-01-15 10:30:45.123 some log message", time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)},
		{"bracketed", "[2024-01-15 10:30:45] some log message", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"comma decimal", "2024-01-15 10:30:45,123 some log message", time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := p.ParseFromText(tt.input)
			if !result.Found {
				t.Fatalf("ParseFromText(%q) did not find timestamp", tt.input)
			}
			if !result.Timestamp.Equal(tt.want) {
				t.Errorf("timestamp = %v, want %v", result.Timestamp, tt.want)
			}
			if result.Remaining != "some log message" {
				t.Errorf("remaining = %q", result.Remaining)
			}
		})
	}
}

func TestParseFromText_Syslog(t *testing.T) {
	p := NewParser()
	p.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	result := p.ParseFromText("Jan  5 10:30:45 host sshd: accepted")
	if !result.Found {
		t.Fatal("syslog format not parsed")
	}
	if want := time.Date(2025, 1, 5, 10, 30, 45, 0, time.UTC); !result.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", result.Timestamp, want)
	}
	if result.Remaining != "host sshd: accepted" {
		t.Errorf("remaining = %q", result.Remaining)
	}
}

func TestParseFromText_TimeOnly(t *testing.T) {
	p := NewParser()
	p.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	result := p.ParseFromText("10:30:45.123 some log message")
	if !result.Found {
		t.Fatal("time-only format not parsed")
	}
	if want := time.Date(2025, 6, 1, 10, 30, 45, 123000000, time.UTC); !result.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", result.Timestamp, want)
	}
}

func TestParseFromText_NoTimestamp(t *testing.T) {
	p := NewParser()

	result := p.ParseFromText("just a regular log message")
	if result.Found {
		t.Error("should not find timestamp in plain text")
	}
	if result.Remaining != "just a regular log message" {
		t.Errorf("remaining = %q, want original text", result.Remaining)
	}
}

func TestParseTimestamp(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name  string
		input any
		want  time.Time
	}{
		{"iso string", "2024-01-15T10:30:45Z", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"numeric string", "946684800", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"unix seconds", float64(946684800), time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"fractional seconds", float64(946684800.5), time.Date(2000, 1, 1, 0, 0, 0, 500000000, time.UTC)},
		{"unix millis", float64(1600000000000), time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)},
		{"unix micros", int64(1600000000000000), time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)},
		{"unix nanos", float64(1600000000000000000), time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)},
		{"int seconds", 946684800, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"json number", json.Number("1705312245000"), time.Date(2024, 1, 15, 9, 50, 45, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := p.ParseTimestamp(tt.input)
			if !ok {
				t.Fatalf("ParseTimestamp(%v) failed", tt.input)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%v) = %v, want %v", tt.input, ts, tt.want)
			}
		})
	}
}

func TestParseTimestamp_Rejects(t *testing.T) {
	p := NewParser()
	for _, in := range []any{"", "yesterday", float64(0), float64(-5), true, nil} {
		if _, ok := p.ParseTimestamp(in); ok {
			t.Errorf("ParseTimestamp(%#v) succeeded, want failure", in)
		}
	}
}

func TestExtractLogMessage(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"with timestamp", "2024-01-15T10:30:45Z INFO: server started", "server started"},
		{"with severity", "ERROR: connection refused", "connection refused"},
		{"bracketed severity", "[WARN] disk high", "disk high"},
		{"plain message", "some log message", "some log message"},
		{"severity only", "ERROR", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ExtractLogMessage(tt.input); got != tt.want {
				t.Errorf("ExtractLogMessage(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
