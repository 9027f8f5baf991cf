package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tinytelemetry/doctarget/internal/model"
	"github.com/tinytelemetry/doctarget/internal/mongostore"
	"github.com/tinytelemetry/doctarget/internal/store"
)

func TestLoadConfig_Defaults(t *testing.T) {
	resetDoctargetEnv(t)

	cfg, err := loadConfig(writeTempConfig(t, `server-address: duckdb://:memory:`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.CollectionName != model.DefaultCollectionName {
		t.Errorf("CollectionName = %q, want %q", cfg.CollectionName, model.DefaultCollectionName)
	}
	if !cfg.IncludeDefaults || !cfg.IncludeEventProperties {
		t.Error("include-defaults and include-event-properties should default to true")
	}
	if cfg.WriteTimeout != model.DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %s", cfg.WriteTimeout)
	}
	if cfg.BatchSize != defaultBatchSize || cfg.FlushInterval != defaultFlushInterval {
		t.Errorf("batching = %d/%s", cfg.BatchSize, cfg.FlushInterval)
	}
	if cfg.OTLPEnabled || cfg.JournalEnabled {
		t.Error("otlp and journal should be disabled by default")
	}
	if cfg.builder == nil {
		t.Fatal("builder should be compiled")
	}
	if opts := cfg.builder.Options(); !opts.IncludeDefaults || len(opts.Fields) != 0 {
		t.Errorf("builder options = %+v", opts)
	}
}

func TestLoadConfig_AddressResolution(t *testing.T) {
	resetDoctargetEnv(t)

	tests := []struct {
		name         string
		configYAML   string
		wantHost     string
		wantTCPAddr  string
		wantAPIAddr  string
		wantOTLPAddr string
	}{
		{
			name: "defaults to localhost host",
			configYAML: `
server-address: duckdb://
tcp-port: 4100
api-port: 3100
`,
			wantHost:     "127.0.0.1",
			wantTCPAddr:  "127.0.0.1:4100",
			wantAPIAddr:  "127.0.0.1:3100",
			wantOTLPAddr: "127.0.0.1:4317",
		},
		{
			name: "host applies to derived addresses",
			configYAML: `
server-address: duckdb://
host: 0.0.0.0
tcp-port: 4200
api-port: 3200
otlp-port: 4318
`,
			wantHost:     "0.0.0.0",
			wantTCPAddr:  "0.0.0.0:4200",
			wantAPIAddr:  "0.0.0.0:3200",
			wantOTLPAddr: "0.0.0.0:4318",
		},
		{
			name: "explicit addresses override host and ports",
			configYAML: `
server-address: duckdb://
host: 0.0.0.0
tcp-addr: 10.0.0.5:9999
api-addr: 10.0.0.5:8888
otlp-addr: 10.0.0.5:7777
`,
			wantHost:     "0.0.0.0",
			wantTCPAddr:  "10.0.0.5:9999",
			wantAPIAddr:  "10.0.0.5:8888",
			wantOTLPAddr: "10.0.0.5:7777",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeTempConfig(t, tt.configYAML))
			if err != nil {
				t.Fatalf("loadConfig returned error: %v", err)
			}
			if cfg.Host != tt.wantHost {
				t.Fatalf("Host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.TCPAddr != tt.wantTCPAddr {
				t.Fatalf("TCPAddr = %q, want %q", cfg.TCPAddr, tt.wantTCPAddr)
			}
			if cfg.APIAddr != tt.wantAPIAddr {
				t.Fatalf("APIAddr = %q, want %q", cfg.APIAddr, tt.wantAPIAddr)
			}
			if cfg.OTLPAddr != tt.wantOTLPAddr {
				t.Fatalf("OTLPAddr = %q, want %q", cfg.OTLPAddr, tt.wantOTLPAddr)
			}
		})
	}
}

func TestLoadConfig_DocumentRules(t *testing.T) {
	resetDoctargetEnv(t)

	cfg, err := loadConfig(writeTempConfig(t, `
server-address: mongodb://localhost:27017/logs
collection-name: AppLog
capped-collection-size: 1048576
capped-collection-max-items: 1000
include-defaults: false
write-timeout: 5s
fields:
  - name: Time
    layout: "${date}"
  - name: Text
    layout: "${message}"
properties:
  - name: host
    layout: "${logger}"
`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.ServerAddress != "mongodb://localhost:27017/logs" || cfg.CollectionName != "AppLog" {
		t.Errorf("store config = %+v", cfg.Config)
	}
	if cfg.CappedCollectionSize != 1048576 || cfg.CappedCollectionMaxItems != 1000 {
		t.Errorf("capped = %d/%d", cfg.CappedCollectionSize, cfg.CappedCollectionMaxItems)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %s", cfg.WriteTimeout)
	}
	opts := cfg.builder.Options()
	if opts.IncludeDefaults || len(opts.Fields) != 2 || len(opts.Properties) != 1 {
		t.Fatalf("builder options = %+v", opts)
	}
	if opts.Fields[0].Name != "Time" || opts.Properties[0].Name != "host" {
		t.Errorf("rule names = %q, %q", opts.Fields[0].Name, opts.Properties[0].Name)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	resetDoctargetEnv(t)
	t.Setenv("DOCTARGET_SERVER_ADDRESS", "postgres://localhost:5432/logs")
	t.Setenv("DOCTARGET_BATCH_SIZE", "50")

	cfg, err := loadConfig(writeTempConfig(t, `batch-size: 10`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.ServerAddress != "postgres://localhost:5432/logs" {
		t.Errorf("ServerAddress = %q", cfg.ServerAddress)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want env override 50", cfg.BatchSize)
	}
}

func TestLoadConfig_ValidationReportsEveryError(t *testing.T) {
	resetDoctargetEnv(t)

	_, err := loadConfig(writeTempConfig(t, `
tcp-port: 0
batch-size: -1
processor: fancy
log-level: loud
fields:
  - name: ""
    layout: "${message}"
  - name: Bad
    layout: "${nope}"
`))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *multierror.Error", err)
	}
	if !errors.Is(err, store.ErrMissingServerAddress) {
		t.Errorf("missing server-address not reported: %v", err)
	}
	for _, want := range []string{"invalid tcp-port", "invalid batch-size", "invalid processor", "invalid log-level", "fields[0]", "fields[1]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestLoadConfig_UnsupportedScheme(t *testing.T) {
	resetDoctargetEnv(t)

	_, err := loadConfig(writeTempConfig(t, `server-address: redis://localhost`))
	if !errors.Is(err, store.ErrUnsupportedScheme) {
		t.Fatalf("error = %v, want ErrUnsupportedScheme", err)
	}
}

func TestLoadConfig_MongoMaxItemsNeedsSize(t *testing.T) {
	resetDoctargetEnv(t)

	_, err := loadConfig(writeTempConfig(t, `
server-address: mongodb://localhost:27017
capped-collection-max-items: 1000
`))
	if !errors.Is(err, mongostore.ErrMaxItemsWithoutSize) {
		t.Fatalf("error = %v, want ErrMaxItemsWithoutSize", err)
	}

	if _, err := loadConfig(writeTempConfig(t, `
server-address: duckdb://
capped-collection-max-items: 1000
`)); err != nil {
		t.Fatalf("duckdb caps by count alone, got error: %v", err)
	}
}

func TestPrintConfig(t *testing.T) {
	resetDoctargetEnv(t)

	cfg, err := loadConfig(writeTempConfig(t, `
server-address: duckdb://
collection-name: Events
`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	out, err := cfg.printConfig()
	if err != nil {
		t.Fatalf("printConfig: %v", err)
	}
	for _, want := range []string{"server-address: duckdb://", "collection-name: Events", "batch-size: 500"} {
		if !strings.Contains(out, want) {
			t.Errorf("printConfig output missing %q:\n%s", want, out)
		}
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// resetDoctargetEnv clears DOCTARGET_* variables for the test and restores them after.
func resetDoctargetEnv(t *testing.T) {
	t.Helper()

	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix+"_") {
			continue
		}
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}
