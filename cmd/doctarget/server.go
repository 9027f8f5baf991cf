package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/doctarget/internal/httpserver"
	"github.com/tinytelemetry/doctarget/internal/ingest"
	"github.com/tinytelemetry/doctarget/internal/journal"
	"github.com/tinytelemetry/doctarget/internal/otlp"
	"github.com/tinytelemetry/doctarget/internal/store"
	"github.com/tinytelemetry/doctarget/internal/target"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// runServer wires the store, target, buffer, and inputs, and runs until a
// signal arrives or every input closes.
func runServer(cfg appConfig) error {
	logger, cleanupLogger := newRuntimeLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanupLogger()

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), connectTimeout)
	opened, err := store.Open(connectCtx, cfg.Config, logger)
	cancelConnect()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := opened.Close(ctx); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

	tgt, err := target.New(opened, target.Config{
		Builder:         cfg.builder,
		ThrowExceptions: cfg.ThrowExceptions,
		WriteTimeout:    cfg.WriteTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	bufCfg := target.BufferConfig{
		BatchSize:      cfg.BatchSize,
		FlushInterval:  cfg.FlushInterval,
		FlushQueueSize: cfg.FlushQueueSize,
		Logger:         logger,
	}
	if cfg.JournalEnabled {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		bufCfg.Journal = j
	}
	buffer := target.NewBuffer(tgt, bufCfg)
	defer buffer.Stop()

	if n, err := buffer.Replay(); err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	} else if n > 0 {
		logger.Info("journal replayed", zap.Int("events", n))
	}

	var receiver *otlp.Receiver
	if cfg.OTLPEnabled {
		receiver = otlp.NewReceiver(buffer, logger)
		if err := receiver.Start(cfg.OTLPAddr); err != nil {
			return fmt.Errorf("failed to start OTLP receiver: %w", err)
		}
		defer receiver.Stop()
	}

	if cfg.APIEnabled {
		opts := httpserver.Options{
			Addr:      cfg.APIAddr,
			StoreName: opened.Name(),
			Sink:      buffer,
			Builder:   cfg.builder,
			Stats:     statsFunc(tgt, buffer, receiver),
			Logger:    logger,
		}
		if reader, ok := opened.Store.(httpserver.DocumentReader); ok {
			opts.Documents = reader
		}
		apiServer := httpserver.NewServer(opts)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(shutdownTimeout)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
		Logger:     logger,
	})

	sources := make([]NamedLogSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logger.Error("input plugin failed", zap.String("plugin", plugin.Name()), zap.Error(err))
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize, logger)
	mux.Start()
	defer mux.Stop()

	processor, err := ingest.NewEnvelopeProcessor(cfg.Processor, buffer, "")
	if err != nil {
		return err
	}

	printStartupBanner(cfg, opened.Name(), processor.Name())

	listening := cfg.APIEnabled || cfg.OTLPEnabled
	g, gctx := errgroup.WithContext(ctx)

	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Lines() {
				processor.ProcessEnvelope(env)
			}
			if p, ok := processor.(*ingest.Processor); ok {
				p.Flush()
			}
			if !listening {
				cancel()
			}
			return nil
		})
	} else if !listening {
		return fmt.Errorf("no inputs: enable tcp, api, or otlp, or pipe lines to stdin")
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("errgroup exited with error", zap.Error(err))
	}

	cancel()
	mux.Stop()

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelFlush()
	if err := buffer.Flush(flushCtx); err != nil {
		logger.Warn("final flush incomplete", zap.Error(err))
	}
	stats := tgt.Stats()
	logger.Info("shutdown", zap.Uint64("written", stats.Written), zap.Uint64("failed", stats.Failed))
	return nil
}

func statsFunc(tgt *target.Target, buffer *target.Buffer, receiver *otlp.Receiver) func() map[string]any {
	return func() map[string]any {
		out := map[string]any{
			"target": tgt.Stats(),
			"buffer": buffer.Stats(),
		}
		if receiver != nil {
			received, rejected := receiver.Stats()
			out["otlp"] = map[string]int64{"received": received, "rejected": rejected}
		}
		return out
	}
}

func printStartupBanner(cfg appConfig, storeName, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	endpoint := func(name string, enabled bool, addr string) string {
		if enabled {
			return fmt.Sprintf("    %s  %-14s %s", check, name, cyan.Render(addr))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, name, dim.Render("disabled"))
	}

	separator := dim.Render("    ─────────────────────────────────")
	lines := []string{
		"",
		cyan.Bold(true).Render("    doctarget"),
		"    " + dim.Render("v"+version),
		"",
		separator,
		"",
		bold.Render("    Inputs"),
		"",
		endpoint("HTTP API", cfg.APIEnabled, cfg.APIAddr),
		endpoint("TCP Ingest", cfg.TCPEnabled, cfg.TCPAddr),
		endpoint("OTLP gRPC", cfg.OTLPEnabled, cfg.OTLPAddr),
		"",
		bold.Render("    Storage"),
		"",
		fmt.Sprintf("    %s  %-14s %s", check, "Backend", dim.Render(storeName)),
		fmt.Sprintf("    %s  %-14s %s", check, "Collection", dim.Render(cfg.CollectionName)),
		endpoint("Journal", cfg.JournalEnabled, shortenPath(cfg.JournalPath)),
		"",
		bold.Render("    Runtime"),
		"",
		fmt.Sprintf("    %s  %-14s %s", check, "Processor", dim.Render(processorName)),
		fmt.Sprintf("    %s  %-14s %s", check, "Log File", dim.Render(shortenPath(cfg.LogFile))),
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}
	lines = append(lines,
		"",
		separator,
		"",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"),
		"",
	)

	fmt.Fprintln(os.Stderr, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
