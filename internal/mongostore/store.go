// Package mongostore writes documents to a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
)

// ErrMaxItemsWithoutSize reports a document cap with no byte cap. MongoDB
// sizes capped collections in bytes and cannot create one from a count alone.
var ErrMaxItemsWithoutSize = errors.New("mongostore: capped max items requires a capped size")

// ValidateCapped checks a capped collection configuration.
func ValidateCapped(size, maxItems int64) error {
	if maxItems > 0 && size <= 0 {
		return ErrMaxItemsWithoutSize
	}
	return nil
}

// Config describes the target collection.
type Config struct {
	ServerAddress  string
	DatabaseName   string
	CollectionName string
	// CappedSize, when positive, creates the collection as capped with this
	// many bytes. CappedMaxItems additionally bounds the document count.
	CappedSize     int64
	CappedMaxItems int64
	Logger         *zap.Logger
}

// Store is a MongoDB-backed document store.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// Open connects, pings, and prepares the collection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.ServerAddress) == "" {
		return nil, errors.New("mongostore: server address is empty")
	}
	dbName, err := ResolveDatabaseName(cfg.ServerAddress, cfg.DatabaseName)
	if err != nil {
		return nil, err
	}
	collName := cfg.CollectionName
	if collName == "" {
		collName = model.DefaultCollectionName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("mongostore")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ServerAddress))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(dbName)
	if err := ValidateCapped(cfg.CappedSize, cfg.CappedMaxItems); err != nil {
		logger.Warn("capped max items ignored without a capped size", zap.Int64("capped_max_items", cfg.CappedMaxItems))
	}
	if cfg.CappedSize > 0 {
		if err := ensureCapped(ctx, db, collName, cfg.CappedSize, cfg.CappedMaxItems); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
	}

	logger.Info("connected",
		zap.String("database", dbName),
		zap.String("collection", collName),
		zap.Int64("capped_size", cfg.CappedSize),
	)
	return &Store{
		client:     client,
		collection: db.Collection(collName),
		logger:     logger,
	}, nil
}

// ResolveDatabaseName picks the explicit name, then the one embedded in the
// connection string, then the default.
func ResolveDatabaseName(serverAddress, explicit string) (string, error) {
	if name := strings.TrimSpace(explicit); name != "" {
		return name, nil
	}
	cs, err := connstring.ParseAndValidate(serverAddress)
	if err != nil {
		return "", fmt.Errorf("mongostore: parse connection string: %w", err)
	}
	if cs.Database != "" {
		return cs.Database, nil
	}
	return model.DefaultDatabaseName, nil
}

func ensureCapped(ctx context.Context, db *mongo.Database, name string, size, maxItems int64) error {
	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return fmt.Errorf("mongostore: list collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}
	opts := options.CreateCollection().SetCapped(true).SetSizeInBytes(size)
	if maxItems > 0 {
		opts.SetMaxDocuments(maxItems)
	}
	if err := db.CreateCollection(ctx, name, opts); err != nil {
		return fmt.Errorf("mongostore: create capped collection %q: %w", name, err)
	}
	return nil
}

// Name identifies the backend.
func (s *Store) Name() string { return "mongodb" }

// InsertDocument writes one document.
func (s *Store) InsertDocument(ctx context.Context, doc *document.Document) error {
	if _, err := s.collection.InsertOne(ctx, ToBSON(doc)); err != nil {
		return fmt.Errorf("mongostore: insert: %w", err)
	}
	return nil
}

// InsertDocuments writes docs in order with a single InsertMany.
func (s *Store) InsertDocuments(ctx context.Context, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, len(docs))
	for i, doc := range docs {
		batch[i] = ToBSON(doc)
	}
	if _, err := s.collection.InsertMany(ctx, batch, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("mongostore: insert %d documents: %w", len(docs), err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ToBSON converts a document to an ordered bson.D.
func ToBSON(doc *document.Document) bson.D {
	if doc == nil {
		return bson.D{}
	}
	out := make(bson.D, 0, doc.Len())
	doc.Range(func(key string, v document.Value) bool {
		out = append(out, bson.E{Key: key, Value: bsonValue(v)})
		return true
	})
	return out
}

func bsonValue(v document.Value) interface{} {
	switch v.Kind() {
	case document.KindString:
		return v.Str()
	case document.KindNumber:
		if v.IsInt() {
			return v.Int()
		}
		return v.Float()
	case document.KindTimestamp:
		return v.Time()
	case document.KindDocument:
		return ToBSON(v.Doc())
	default:
		return nil
	}
}
