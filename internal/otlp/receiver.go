package otlp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/doctarget/internal/model"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sink accepts converted events. *target.Buffer implements it.
type Sink interface {
	Add(ev *model.LogEvent, done func(error)) error
}

// Receiver serves the OTLP logs collector service over gRPC.
type Receiver struct {
	collogspb.UnimplementedLogsServiceServer

	sink     Sink
	logger   *zap.Logger
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup

	received atomic.Int64
	rejected atomic.Int64
}

// NewReceiver creates a receiver that forwards events to sink.
func NewReceiver(sink Sink, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.L()
	}
	r := &Receiver{sink: sink, logger: logger.Named("otlp")}
	r.server = grpc.NewServer()
	collogspb.RegisterLogsServiceServer(r.server, r)
	return r
}

// Export implements the OTLP logs service.
func (r *Receiver) Export(_ context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	events := EventsFromRequest(req)
	r.received.Add(int64(len(events)))

	var rejected int64
	var lastErr error
	for _, ev := range events {
		if err := r.sink.Add(ev, nil); err != nil {
			rejected++
			lastErr = err
		}
	}
	if rejected == int64(len(events)) && rejected > 0 {
		r.rejected.Add(rejected)
		return nil, status.Error(codes.Unavailable, lastErr.Error())
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected > 0 {
		r.rejected.Add(rejected)
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       lastErr.Error(),
		}
	}
	return resp, nil
}

// Start listens on addr and serves in the background.
func (r *Receiver) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("otlp: listen %s: %w", addr, err)
	}
	r.Serve(ln)
	return nil
}

// Serve serves on an existing listener in the background.
func (r *Receiver) Serve(ln net.Listener) {
	r.listener = ln
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			r.logger.Error("serve failed", zap.Error(err))
		}
	}()
}

// Addr returns the bound address, or "" before Start.
func (r *Receiver) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Stop drains in-flight RPCs and stops the server.
func (r *Receiver) Stop() {
	r.server.GracefulStop()
	r.wg.Wait()
}

// Stats returns received and rejected record counts.
func (r *Receiver) Stats() (received, rejected int64) {
	return r.received.Load(), r.rejected.Load()
}
