// Package store selects a document store backend from a server address.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/duckdb"
	"github.com/tinytelemetry/doctarget/internal/mongostore"
	"github.com/tinytelemetry/doctarget/internal/pgstore"
	"go.uber.org/zap"
)

// ErrMissingServerAddress is returned when no server address is configured.
var ErrMissingServerAddress = errors.New("store: server address is required")

// ErrUnsupportedScheme is returned for addresses no backend understands.
var ErrUnsupportedScheme = errors.New("store: unsupported server address scheme")

// Store is a document store the target can write to.
type Store interface {
	Name() string
	InsertDocument(ctx context.Context, doc *document.Document) error
	InsertDocuments(ctx context.Context, docs []*document.Document) error
	Close(ctx context.Context) error
}

// Config is the backend-independent store configuration.
type Config struct {
	ServerAddress            string `mapstructure:"server-address" yaml:"server-address"`
	DatabaseName             string `mapstructure:"database-name" yaml:"database-name"`
	CollectionName           string `mapstructure:"collection-name" yaml:"collection-name"`
	CappedCollectionSize     int64  `mapstructure:"capped-collection-size" yaml:"capped-collection-size"`
	CappedCollectionMaxItems int64  `mapstructure:"capped-collection-max-items" yaml:"capped-collection-max-items"`
	// RetentionDays bounds document age for backends that emulate capping.
	RetentionDays int `mapstructure:"retention-days" yaml:"retention-days"`
}

// Backend names the store a server address routes to.
type Backend string

const (
	BackendMongo    Backend = "mongodb"
	BackendPostgres Backend = "postgres"
	BackendDuckDB   Backend = "duckdb"
)

// BackendFor returns the backend an address routes to.
func BackendFor(address string) (Backend, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", ErrMissingServerAddress
	}
	scheme, _, ok := strings.Cut(address, "://")
	if !ok {
		return "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, address)
	}
	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		return BackendMongo, nil
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "duckdb":
		return BackendDuckDB, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
}

// Opened is a store together with any background work it needs stopped.
type Opened struct {
	Store
	stop func()
}

// Close stops background work, then closes the store.
func (o *Opened) Close(ctx context.Context) error {
	if o.stop != nil {
		o.stop()
	}
	return o.Store.Close(ctx)
}

// Open connects to the backend selected by cfg.ServerAddress.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Opened, error) {
	backend, err := BackendFor(cfg.ServerAddress)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.L()
	}

	switch backend {
	case BackendMongo:
		s, err := mongostore.Open(ctx, mongostore.Config{
			ServerAddress:  cfg.ServerAddress,
			DatabaseName:   cfg.DatabaseName,
			CollectionName: cfg.CollectionName,
			CappedSize:     cfg.CappedCollectionSize,
			CappedMaxItems: cfg.CappedCollectionMaxItems,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return &Opened{Store: s}, nil

	case BackendPostgres:
		s, err := pgstore.Open(ctx, pgstore.Config{
			ServerAddress:  cfg.ServerAddress,
			DatabaseName:   cfg.DatabaseName,
			CollectionName: cfg.CollectionName,
			MaxItems:       cfg.CappedCollectionMaxItems,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return &Opened{Store: s}, nil

	default:
		s, err := duckdb.Open(ctx, duckdb.Config{
			Path:           duckdb.PathFromAddress(cfg.ServerAddress),
			CollectionName: cfg.CollectionName,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		enforcer := duckdb.NewCapEnforcer(s, duckdb.CapConfig{
			MaxItems: cfg.CappedCollectionMaxItems,
			MaxBytes: cfg.CappedCollectionSize,
			MaxAge:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		})
		return &Opened{Store: s, stop: enforcer.Stop}, nil
	}
}
