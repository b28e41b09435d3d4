package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/arshealth/keygate/internal/observability"
)

// Mongo defaults.
const (
	DefaultMongoDatabase   = "keygate"
	DefaultMongoCollection = "api_keys"

	defaultConnectTimeout   = 10 * time.Second
	defaultOperationTimeout = 5 * time.Second
)

// MongoStoreConfig holds configuration for the MongoDB record store.
type MongoStoreConfig struct {
	// URI is the MongoDB connection string.
	URI string
	// Database is the database name. Default: "keygate".
	Database string
	// Collection is the collection name. Default: "api_keys".
	Collection string
	// ConnectTimeout bounds the initial connection. Default: 10s.
	ConnectTimeout time.Duration
	// OperationTimeout bounds each store operation. Default: 5s.
	OperationTimeout time.Duration
	// Logger is the logger instance.
	Logger observability.Logger
}

// MongoStore implements the Store interface on a MongoDB collection with a
// unique index over the key digest.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	opTimeout  time.Duration
	logger     observability.Logger
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures
// the collection indexes.
func NewMongoStore(ctx context.Context, cfg *MongoStoreConfig) (*MongoStore, error) {
	if cfg == nil || cfg.URI == "" {
		return nil, fmt.Errorf("mongo URI is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	database := cfg.Database
	if database == "" {
		database = DefaultMongoDatabase
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultMongoCollection
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOperationTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		opTimeout:  opTimeout,
		logger:     logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("mongodb record store initialized",
		observability.String("database", database),
		observability.String("collection", collection),
	)

	return s, nil
}

// ensureIndexes creates the unique digest index and the owner listing index.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key_hash", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_key_hash"),
		},
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "is_active", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("owner_active_created"),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(opCtx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// opContext derives a bounded context for a single store operation.
func (s *MongoStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Create inserts a record, assigning an id and timestamps when absent.
func (s *MongoStore) Create(ctx context.Context, record *Record) error {
	start := time.Now()
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	_, err := s.collection.InsertOne(opCtx, record)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			recordStoreOperation("create", "duplicate", time.Since(start))
			return ErrDuplicateKeyHash
		}
		recordStoreOperation("create", "error", time.Since(start))
		return fmt.Errorf("failed to insert api key record: %w", err)
	}

	recordStoreOperation("create", "success", time.Since(start))
	return nil
}

// GetByID fetches a record by id.
func (s *MongoStore) GetByID(ctx context.Context, id string) (*Record, error) {
	return s.findOne(ctx, "get_by_id", bson.M{"_id": id})
}

// GetByHash fetches a record by its key digest.
func (s *MongoStore) GetByHash(ctx context.Context, keyHash string) (*Record, error) {
	return s.findOne(ctx, "get_by_hash", bson.M{"key_hash": keyHash})
}

// findOne runs a single-document lookup and maps missing documents to
// ErrKeyNotFound.
func (s *MongoStore) findOne(ctx context.Context, op string, filter bson.M) (*Record, error) {
	start := time.Now()
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var record Record
	err := s.collection.FindOne(opCtx, filter).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			recordStoreOperation(op, "not_found", time.Since(start))
			return nil, ErrKeyNotFound
		}
		recordStoreOperation(op, "error", time.Since(start))
		return nil, fmt.Errorf("failed to fetch api key record: %w", err)
	}

	recordStoreOperation(op, "success", time.Since(start))
	return &record, nil
}

// ListByOwner returns the owner's records, newest first.
func (s *MongoStore) ListByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*Record, error) {
	start := time.Now()
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	filter := bson.M{"owner_id": ownerID}
	if !includeInactive {
		filter["is_active"] = true
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.collection.Find(opCtx, filter, findOpts)
	if err != nil {
		recordStoreOperation("list_by_owner", "error", time.Since(start))
		return nil, fmt.Errorf("failed to list api key records: %w", err)
	}
	defer func() { _ = cursor.Close(opCtx) }()

	records := make([]*Record, 0)
	if err := cursor.All(opCtx, &records); err != nil {
		recordStoreOperation("list_by_owner", "error", time.Since(start))
		return nil, fmt.Errorf("failed to decode api key records: %w", err)
	}

	recordStoreOperation("list_by_owner", "success", time.Since(start))
	return records, nil
}

// Deactivate soft-deletes an owned record.
func (s *MongoStore) Deactivate(ctx context.Context, id, ownerID string) error {
	start := time.Now()
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	}}

	result, err := s.collection.UpdateOne(opCtx, bson.M{"_id": id, "owner_id": ownerID}, update)
	if err != nil {
		recordStoreOperation("deactivate", "error", time.Since(start))
		return fmt.Errorf("failed to deactivate api key record: %w", err)
	}
	if result.MatchedCount == 0 {
		recordStoreOperation("deactivate", "not_found", time.Since(start))
		return ErrKeyNotFound
	}

	recordStoreOperation("deactivate", "success", time.Since(start))
	return nil
}

// UpdateAccess rotates the mutable access fields of an owned record.
func (s *MongoStore) UpdateAccess(ctx context.Context, id, ownerID string, update AccessUpdate) (*Record, error) {
	start := time.Now()
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Permissions != nil {
		set["permissions"] = update.Permissions
	}
	if update.RateLimitPerHour != nil {
		set["rate_limit_per_hour"] = *update.RateLimitPerHour
	}
	if update.ExpiresAt != nil {
		set["expires_at"] = *update.ExpiresAt
	}

	findOpts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var record Record
	err := s.collection.FindOneAndUpdate(
		opCtx,
		bson.M{"_id": id, "owner_id": ownerID},
		bson.M{"$set": set},
		findOpts,
	).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			recordStoreOperation("update_access", "not_found", time.Since(start))
			return nil, ErrKeyNotFound
		}
		recordStoreOperation("update_access", "error", time.Since(start))
		return nil, fmt.Errorf("failed to update api key record: %w", err)
	}

	recordStoreOperation("update_access", "success", time.Since(start))
	return &record, nil
}

// UpdateLastUsed records when the key last authenticated a request.
func (s *MongoStore) UpdateLastUsed(ctx context.Context, id string, when time.Time) error {
	start := time.Now()
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{"last_used_at": when.UTC()}}

	result, err := s.collection.UpdateOne(opCtx, bson.M{"_id": id}, update)
	if err != nil {
		recordStoreOperation("update_last_used", "error", time.Since(start))
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	if result.MatchedCount == 0 {
		recordStoreOperation("update_last_used", "not_found", time.Since(start))
		return ErrKeyNotFound
	}

	recordStoreOperation("update_last_used", "success", time.Since(start))
	return nil
}

// Ping checks MongoDB connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Ping(opCtx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ensure MongoStore implements Store.
var _ Store = (*MongoStore)(nil)
