package duckdb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CapConfig bounds the collection the way a capped collection would.
// Zero fields are not enforced.
type CapConfig struct {
	MaxItems int64
	MaxBytes int64
	MaxAge   time.Duration
	Interval time.Duration
}

func (c CapConfig) enabled() bool {
	return c.MaxItems > 0 || c.MaxBytes > 0 || c.MaxAge > 0
}

// CapEnforcer periodically deletes the oldest documents beyond the cap.
type CapEnforcer struct {
	store    *Store
	cfg      CapConfig
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCapEnforcer starts an enforcer. It returns nil when no bound is set.
func NewCapEnforcer(store *Store, cfg CapConfig) *CapEnforcer {
	if !cfg.enabled() {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	ce := &CapEnforcer{
		store: store,
		cfg:   cfg,
		done:  make(chan struct{}),
	}

	// Catch up after downtime.
	ce.enforce()

	ce.wg.Add(1)
	go ce.tickLoop()
	return ce
}

func (ce *CapEnforcer) tickLoop() {
	defer ce.wg.Done()
	ticker := time.NewTicker(ce.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ce.enforce()
		case <-ce.done:
			return
		}
	}
}

func (ce *CapEnforcer) enforce() {
	ctx, cancel := context.WithTimeout(context.Background(), ce.store.QueryTimeout)
	defer cancel()

	n, err := ce.store.Trim(ctx, ce.cfg)
	if err != nil {
		ce.store.logger.Warn("cap enforcement failed", zap.Error(err))
		return
	}
	if n > 0 {
		ce.store.logger.Info("cap enforcement deleted documents", zap.Int64("deleted", n))
	}
}

// Stop halts the enforcer and waits for it.
func (ce *CapEnforcer) Stop() {
	if ce == nil {
		return
	}
	ce.stopOnce.Do(func() {
		close(ce.done)
		ce.wg.Wait()
	})
}

// Trim deletes documents outside cfg's bounds, oldest first, and returns
// how many were removed.
func (s *Store) Trim(ctx context.Context, cfg CapConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	if cfg.MaxAge > 0 {
		cutoff := time.Now().UTC().Add(-cfg.MaxAge)
		n, err := s.exec(ctx, `DELETE FROM log_documents WHERE collection = ? AND inserted_at < ?`, s.collection, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	if cfg.MaxItems > 0 {
		n, err := s.exec(ctx, `DELETE FROM log_documents WHERE collection = ? AND seq IN (
			SELECT seq FROM log_documents WHERE collection = ? ORDER BY seq DESC OFFSET ?)`,
			s.collection, s.collection, cfg.MaxItems)
		if err != nil {
			return total, err
		}
		total += n
	}
	if cfg.MaxBytes > 0 {
		n, err := s.exec(ctx, `DELETE FROM log_documents WHERE collection = ? AND seq IN (
			SELECT seq FROM (
				SELECT seq, SUM(size_bytes) OVER (ORDER BY seq DESC) AS running
				FROM log_documents WHERE collection = ?
			) WHERE running > ?)`,
			s.collection, s.collection, cfg.MaxBytes)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
