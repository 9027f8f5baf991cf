package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/ingest"
	"github.com/tinytelemetry/doctarget/internal/layout"
	"github.com/tinytelemetry/doctarget/internal/model"
	"github.com/tinytelemetry/doctarget/internal/mongostore"
	"github.com/tinytelemetry/doctarget/internal/store"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix             = "DOCTARGET"
	defaultBindHost       = "127.0.0.1"
	defaultTCPPort        = 4000
	defaultAPIPort        = 3000
	defaultOTLPPort       = 4317
	defaultMuxBufferSize  = DefaultMuxBuffer
	defaultBatchSize      = 500
	defaultFlushInterval  = 100 * time.Millisecond
	defaultFlushQueueSize = 64
	defaultLogLevel       = "info"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	store.Config `mapstructure:",squash"`

	IncludeDefaults        bool              `mapstructure:"include-defaults"`
	IncludeEventProperties bool              `mapstructure:"include-event-properties"`
	Fields                 []layout.RuleSpec `mapstructure:"fields"`
	Properties             []layout.RuleSpec `mapstructure:"properties"`
	ThrowExceptions        bool              `mapstructure:"throw-exceptions"`
	WriteTimeout           time.Duration     `mapstructure:"write-timeout"`

	BatchSize      int           `mapstructure:"batch-size"`
	FlushInterval  time.Duration `mapstructure:"flush-interval"`
	FlushQueueSize int           `mapstructure:"flush-queue-size"`
	JournalEnabled bool          `mapstructure:"journal-enabled"`
	JournalPath    string        `mapstructure:"journal-path"`

	Host          string `mapstructure:"host"`
	Processor     string `mapstructure:"processor"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr"`
	APIEnabled    bool   `mapstructure:"api-enabled"`
	APIPort       int    `mapstructure:"api-port"`
	APIAddr       string `mapstructure:"api-addr"`
	OTLPEnabled   bool   `mapstructure:"otlp-enabled"`
	OTLPPort      int    `mapstructure:"otlp-port"`
	OTLPAddr      string `mapstructure:"otlp-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`

	LogFile  string `mapstructure:"log-file"`
	LogLevel string `mapstructure:"log-level"`

	ConfigPath string         `mapstructure:"-"`
	settings   map[string]any // effective settings, for -print-config
	builder    *document.Builder
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	stateDir := filepath.Join(home, ".local", "state", "doctarget")

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("server-address", "")
	v.SetDefault("database-name", "")
	v.SetDefault("collection-name", model.DefaultCollectionName)
	v.SetDefault("capped-collection-size", 0)
	v.SetDefault("capped-collection-max-items", 0)
	v.SetDefault("retention-days", 0)
	v.SetDefault("include-defaults", true)
	v.SetDefault("include-event-properties", true)
	v.SetDefault("throw-exceptions", false)
	v.SetDefault("write-timeout", model.DefaultWriteTimeout)
	v.SetDefault("batch-size", defaultBatchSize)
	v.SetDefault("flush-interval", defaultFlushInterval)
	v.SetDefault("flush-queue-size", defaultFlushQueueSize)
	v.SetDefault("journal-enabled", false)
	v.SetDefault("journal-path", filepath.Join(stateDir, "journal.jsonl"))
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("processor", ingest.ProcessorModeParse)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("otlp-enabled", false)
	v.SetDefault("otlp-port", defaultOTLPPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("log-file", filepath.Join(stateDir, "doctarget.log"))
	v.SetDefault("log-level", defaultLogLevel)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "doctarget", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}
	cfg.settings = v.AllSettings()

	cfg.JournalPath = expandHome(cfg.JournalPath, home)
	cfg.LogFile = expandHome(cfg.LogFile, home)
	if strings.HasPrefix(cfg.ServerAddress, "duckdb://~/") {
		cfg.ServerAddress = "duckdb://" + expandHome(strings.TrimPrefix(cfg.ServerAddress, "duckdb://"), home)
	}

	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	if cfg.OTLPAddr == "" {
		cfg.OTLPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.OTLPPort))
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate checks every setting and reports all problems at once. It also
// compiles the document rules into cfg.builder.
func (c *appConfig) validate() error {
	var result error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	backend, err := store.BackendFor(c.ServerAddress)
	if err != nil {
		fail("server-address: %w", err)
	}
	if backend == store.BackendMongo {
		if err := mongostore.ValidateCapped(c.CappedCollectionSize, c.CappedCollectionMaxItems); err != nil {
			fail("capped-collection-max-items: %w", err)
		}
	}
	if c.CappedCollectionSize < 0 {
		fail("invalid capped-collection-size: %d", c.CappedCollectionSize)
	}
	if c.CappedCollectionMaxItems < 0 {
		fail("invalid capped-collection-max-items: %d", c.CappedCollectionMaxItems)
	}
	for _, p := range []struct {
		name string
		port int
	}{{"tcp-port", c.TCPPort}, {"api-port", c.APIPort}, {"otlp-port", c.OTLPPort}} {
		if p.port <= 0 || p.port > 65535 {
			fail("invalid %s: %d", p.name, p.port)
		}
	}
	if c.BatchSize <= 0 {
		fail("invalid batch-size: %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		fail("invalid flush-interval: %s", c.FlushInterval)
	}
	if c.WriteTimeout < 0 {
		fail("invalid write-timeout: %s", c.WriteTimeout)
	}
	if c.JournalEnabled && c.JournalPath == "" {
		fail("journal-path is required when journal-enabled is set")
	}
	if _, err := ingest.NewEnvelopeProcessor(c.Processor, nil, ""); err != nil {
		fail("invalid processor: %q", c.Processor)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		fail("invalid log-level: %q", c.LogLevel)
	}

	fields, err := layout.CompileRules("fields", c.Fields)
	if err != nil {
		result = multierror.Append(result, err)
	}
	props, err := layout.CompileRules("properties", c.Properties)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		return result
	}

	c.builder = document.NewBuilder(document.Options{
		IncludeDefaults:        c.IncludeDefaults,
		Fields:                 fields,
		Properties:             props,
		IncludeEventProperties: c.IncludeEventProperties,
	})
	return nil
}

// printConfig writes the effective settings as YAML.
func (c appConfig) printConfig() (string, error) {
	out, err := yaml.Marshal(c.settings)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
