package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoConfig contains MongoDB-specific configuration
type MongoConfig struct {
	// URI is the MongoDB connection string
	URI string `json:"uri" yaml:"uri"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Collection is the artifact collection name
	Collection string `json:"collection" yaml:"collection"`

	// ConnectTimeout bounds the initial connection check
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	// VectorIndex is the Atlas vector search index name.
	// When empty, VectorCandidates reports no capability.
	VectorIndex string `json:"vector_index" yaml:"vector_index"`
}

// DefaultMongoConfig returns the default MongoDB configuration
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "studyflow",
		Collection:     "generated_artifacts",
		ConnectTimeout: 5 * time.Second,
	}
}

// MongoStore is a MongoDB-based implementation of ArtifactStore.
// Suitable for distributed production deployments.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	config MongoConfig
	logger *zap.Logger
}

// NewMongoStore creates a new MongoDB-based artifact store.
func NewMongoStore(config MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(config.Database).Collection(config.Collection),
		config: config,
		logger: logger.With(zap.String("component", "mongo_store")),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info("mongo store initialized",
		zap.String("database", config.Database),
		zap.String("collection", config.Collection))

	return s, nil
}

// ensureIndexes creates the unique hash index and the recency index.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "scope", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// GetByHash returns the entry with the exact hash, or ErrNotFound.
func (s *MongoStore) GetByHash(ctx context.Context, hash string) (*ArtifactEntry, error) {
	var entry ArtifactEntry
	err := s.coll.FindOne(ctx, bson.M{"hash": hash}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo get by hash: %w", err)
	}
	return &entry, nil
}

// ListByScope returns up to limit entries sharing scope, most recent first.
func (s *MongoStore) ListByScope(ctx context.Context, scope string, limit int) ([]*ArtifactEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, bson.M{"scope": scope}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo list by scope: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*ArtifactEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("mongo decode scope entries: %w", err)
	}
	return entries, nil
}

// Insert persists a new entry and returns its ID.
func (s *MongoStore) Insert(ctx context.Context, entry *ArtifactEntry) (string, error) {
	if entry == nil || entry.Hash == "" || entry.Scope == "" {
		return "", ErrInvalidInput
	}

	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	_, err := s.coll.InsertOne(ctx, stored)
	if mongo.IsDuplicateKeyError(err) {
		return "", ErrDuplicateHash
	}
	if err != nil {
		return "", fmt.Errorf("mongo insert: %w", err)
	}
	return stored.ID, nil
}

// IncrementUsage bumps the usage counter of an entry. Best-effort: a missing
// document is an error for the caller to log, not to act on.
func (s *MongoStore) IncrementUsage(ctx context.Context, id string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"usageCount": 1}})
	if err != nil {
		return fmt.Errorf("mongo increment usage: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// VectorCandidates returns nearest-embedding entries within scope using an
// Atlas vector search index. Requires VectorIndex to be configured.
func (s *MongoStore) VectorCandidates(ctx context.Context, scope string, embedding []float64, limit int) ([]*ArtifactEntry, error) {
	if s.config.VectorIndex == "" {
		return nil, fmt.Errorf("vector index not configured")
	}
	if len(embedding) == 0 || limit <= 0 {
		return nil, ErrInvalidInput
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: s.config.VectorIndex},
			{Key: "path", Value: "embeddingVector"},
			{Key: "queryVector", Value: embedding},
			{Key: "numCandidates", Value: limit * 10},
			{Key: "limit", Value: limit},
			{Key: "filter", Value: bson.D{{Key: "scope", Value: scope}}},
		}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo vector search: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*ArtifactEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("mongo decode vector candidates: %w", err)
	}
	return entries, nil
}

// Ping checks if the store is healthy.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the store.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ensure MongoStore implements ArtifactStore and VectorSearcher
var (
	_ ArtifactStore  = (*MongoStore)(nil)
	_ VectorSearcher = (*MongoStore)(nil)
)
