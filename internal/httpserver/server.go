// Package httpserver exposes the target over a small gin HTTP API.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/duckdb"
	"github.com/tinytelemetry/doctarget/internal/ingest"
	"go.uber.org/zap"
)

const defaultDocumentLimit = 100

// DefaultMaxBodySize bounds a request body, matching the TCP line limit.
const DefaultMaxBodySize = 1024 * 1024

// DocumentReader is the read side offered by stores that support queries.
type DocumentReader interface {
	CountDocuments(ctx context.Context) (int64, error)
	RecentDocuments(ctx context.Context, limit int, level string) ([]duckdb.StoredDocument, error)
}

// Options configures the HTTP API.
type Options struct {
	Addr      string
	StoreName string
	Sink      ingest.Sink
	Builder   *document.Builder
	// Stats contributes extra fields to /api/health.
	Stats func() map[string]any
	// Documents enables GET /api/documents when set.
	Documents DocumentReader
	// MaxBodySize bounds POST bodies. Zero means DefaultMaxBodySize.
	MaxBodySize int64
	Logger      *zap.Logger
}

// Server provides the HTTP API.
type Server struct {
	opts      Options
	logger    *zap.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "0.0.0.0:3000"
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.Builder == nil {
		opts.Builder = document.NewBuilder(document.Options{IncludeDefaults: true, IncludeEventProperties: true})
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:      opts,
		logger:    logger.Named("http"),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.POST("/api/events", s.handleEvents)
	r.POST("/api/preview", s.handlePreview)
	if s.opts.Documents != nil {
		r.GET("/api/documents", s.handleDocuments)
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", zap.Error(err))
		}
	}()
	s.logger.Info("listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
		"store":  s.opts.StoreName,
	}
	if s.opts.Stats != nil {
		for k, v := range s.opts.Stats() {
			body[k] = v
		}
	}
	if s.opts.Documents != nil {
		count, err := s.opts.Documents.CountDocuments(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
			return
		}
		body["document_count"] = count
	}
	c.JSON(http.StatusOK, body)
}

// handleEvents accepts a JSON object, a JSON array, or NDJSON. With
// ?wait=true the response reports the write outcome of every event.
func (s *Server) handleEvents(c *gin.Context) {
	if s.opts.Sink == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no sink configured"})
		return
	}
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	events, err := decodeEvents(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no events in body"})
		return
	}

	wait := c.Query("wait") == "true"
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written int
		failed  []string
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed = append(failed, err.Error())
			return
		}
		written++
	}

	accepted, rejected := 0, 0
	for _, ev := range events {
		ev.Properties = append(ev.Properties, sourceProperty)
		var once sync.Once
		var done func(error)
		if wait {
			wg.Add(1)
			done = func(err error) {
				once.Do(func() {
					record(err)
					wg.Done()
				})
			}
		}
		if err := s.opts.Sink.Add(ev, done); err != nil {
			rejected++
			if wait {
				once.Do(wg.Done)
			}
			continue
		}
		accepted++
	}

	if !wait {
		c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "rejected": rejected})
		return
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-c.Request.Context().Done():
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for writes", "accepted": accepted})
		return
	}

	mu.Lock()
	defer mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"accepted": accepted,
		"rejected": rejected,
		"written":  written,
		"errors":   failed,
	})
}

// readBody reads at most MaxBodySize bytes, answering 413 beyond that.
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodySize)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body exceeds limit", "limit": tooLarge.Limit})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return nil, false
	}
	return body, true
}

func (s *Server) handlePreview(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	ev := ingest.ParseJSONLogEntry(string(body))
	if ev == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	doc, err := s.opts.Builder.Build(ev)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDocuments(c *gin.Context) {
	var query struct {
		Limit int    `form:"limit"`
		Level string `form:"level"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}
	if query.Limit <= 0 {
		query.Limit = defaultDocumentLimit
	}

	docs, err := s.opts.Documents.RecentDocuments(c.Request.Context(), query.Limit, query.Level)
	if err != nil {
		s.logger.Warn("document query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read documents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"count":     len(docs),
	})
}
