package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bloom-paywall/server/internal/metrics"
)

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client  *mongo.Client
	usages  *mongo.Collection
	metrics *metrics.Metrics
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(connectionString, database, collectionName string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect() error during initialization cleanup is not actionable;
		// the connection failure is the error the caller needs.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store := &MongoDBStore{
		client: client,
		usages: client.Database(database).Collection(tableNameOrDefault(collectionName)),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

// createIndexes creates the compound unique index that enforces one usage
// per (transaction, content) pair, plus a consumed_at index for archival.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.usages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "transaction_id", Value: 1},
				{Key: "content_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "consumed_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create usage indexes: %w", err)
	}
	return nil
}

// RecordUsage marks a transaction as consumed for a content resource.
// The unique index arbitrates concurrent inserts: the losing request gets a
// duplicate key error which is surfaced as ErrAlreadyUsed.
func (s *MongoDBStore) RecordUsage(ctx context.Context, usage PaymentUsage) error {
	defer metrics.MeasureDBQuery(s.metrics, "record_usage", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	usage.TransactionID = NormalizeTxID(usage.TransactionID)
	if usage.ConsumedAt.IsZero() {
		usage.ConsumedAt = time.Now().UTC()
	}

	_, err := s.usages.InsertOne(ctx, usage)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyUsed
		}
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// HasBeenUsed reports whether a transaction has been consumed for the content.
func (s *MongoDBStore) HasBeenUsed(ctx context.Context, txID, contentID string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "has_been_used", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{"transaction_id": NormalizeTxID(txID), "content_id": contentID}
	count, err := s.usages.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check usage: %w", err)
	}
	return count > 0, nil
}

// GetUsage retrieves the usage record for a (transaction, content) pair.
func (s *MongoDBStore) GetUsage(ctx context.Context, txID, contentID string) (PaymentUsage, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_usage", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{"transaction_id": NormalizeTxID(txID), "content_id": contentID}

	var usage PaymentUsage
	err := s.usages.FindOne(ctx, filter).Decode(&usage)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentUsage{}, ErrNotFound
	}
	if err != nil {
		return PaymentUsage{}, fmt.Errorf("get usage: %w", err)
	}
	return usage, nil
}

// ArchiveOldUsages deletes usage records consumed before the given time.
func (s *MongoDBStore) ArchiveOldUsages(ctx context.Context, olderThan time.Time) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "archive_usages", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.usages.DeleteMany(ctx, bson.M{"consumed_at": bson.M{"$lt": olderThan.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("archive usages: %w", err)
	}
	return result.DeletedCount, nil
}

// Close disconnects the MongoDB client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
