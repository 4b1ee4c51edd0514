package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/metrics"
)

// ErrNotFound is returned when a requested usage record is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyUsed is returned when a transaction has already been consumed for
// the same content. Callers treat this as a replay, not an infrastructure fault.
var ErrAlreadyUsed = errors.New("storage: payment already used")

// Store captures the persistence requirements for replay protection.
//
// RecordUsage must be atomic: when two requests race to consume the same
// transaction for the same content, exactly one succeeds and the other
// receives ErrAlreadyUsed. Each backend relies on its native uniqueness
// primitive (map insert under lock, ON CONFLICT, unique index) rather than
// a check-then-insert sequence.
type Store interface {
	// RecordUsage marks a transaction as consumed for a content resource.
	// Returns ErrAlreadyUsed if the (transaction, content) pair exists.
	RecordUsage(ctx context.Context, usage PaymentUsage) error

	// HasBeenUsed reports whether a transaction has been consumed for the content.
	HasBeenUsed(ctx context.Context, txID, contentID string) (bool, error)

	// GetUsage retrieves the usage record for a (transaction, content) pair.
	GetUsage(ctx context.Context, txID, contentID string) (PaymentUsage, error)

	// ArchiveOldUsages deletes usage records consumed before the given time.
	// Returns the number of deleted records.
	ArchiveOldUsages(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres", or "mongodb"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	TableName       string                    // table (Postgres) or collection (MongoDB) name, default "payment_usages"
	PostgresPool    config.PostgresPoolConfig // PostgreSQL connection pool settings
	Metrics         *metrics.Metrics          // optional query instrumentation
}

// FromConfig builds a StoreConfig from the application configuration.
func FromConfig(cfg config.StorageConfig) StoreConfig {
	return StoreConfig{
		Backend:         cfg.Backend,
		PostgresURL:     cfg.PostgresURL,
		MongoDBURL:      cfg.MongoDBURL,
		MongoDBDatabase: cfg.MongoDBDatabase,
		TableName:       cfg.TableName,
		PostgresPool:    cfg.PostgresPool,
	}
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is provided (non-nil) for postgres backends, it is used instead of
// opening a new connection pool.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		// Memory backend loses all replay protection on restart.
		// Only suitable for development and single-instance testing.
		return NewMemoryStore(), nil
	case "":
		// Auto-detect backend from provided configuration.
		// Priority order: postgres > mongodb > memory (fallback)
		if cfg.PostgresURL != "" {
			return newPostgres(cfg, sharedDB)
		}
		if cfg.MongoDBURL != "" {
			if cfg.MongoDBDatabase == "" {
				cfg.MongoDBDatabase = "bloom_paywall"
			}
			return newMongo(cfg)
		}
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return newPostgres(cfg, sharedDB)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return newMongo(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func newPostgres(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	var (
		store *PostgresStore
		err   error
	)
	if sharedDB != nil {
		store, err = NewPostgresStoreWithDB(sharedDB, cfg.TableName)
	} else {
		store, err = NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, cfg.TableName)
	}
	if err != nil {
		return nil, err
	}
	store.metrics = cfg.Metrics
	return store, nil
}

func newMongo(cfg StoreConfig) (Store, error) {
	store, err := NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.TableName)
	if err != nil {
		return nil, err
	}
	store.metrics = cfg.Metrics
	return store, nil
}

// MemoryStore is an in-memory Store implementation suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	usages map[string]PaymentUsage // usageKey -> usage
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usages: make(map[string]PaymentUsage),
	}
}

// RecordUsage marks a transaction as consumed for a content resource.
// The insert-if-absent under a single lock makes the record step atomic:
// of two racing requests, one inserts and one sees ErrAlreadyUsed.
func (m *MemoryStore) RecordUsage(_ context.Context, usage PaymentUsage) error {
	key := usageKey(usage.TransactionID, usage.ContentID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usages[key]; exists {
		return ErrAlreadyUsed
	}

	usage.TransactionID = NormalizeTxID(usage.TransactionID)
	if usage.ConsumedAt.IsZero() {
		usage.ConsumedAt = time.Now().UTC()
	}
	m.usages[key] = usage
	return nil
}

// HasBeenUsed reports whether a transaction has been consumed for the content.
func (m *MemoryStore) HasBeenUsed(_ context.Context, txID, contentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.usages[usageKey(txID, contentID)]
	return exists, nil
}

// GetUsage retrieves the usage record for a (transaction, content) pair.
func (m *MemoryStore) GetUsage(_ context.Context, txID, contentID string) (PaymentUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage, ok := m.usages[usageKey(txID, contentID)]
	if !ok {
		return PaymentUsage{}, ErrNotFound
	}
	return usage, nil
}

// ArchiveOldUsages deletes usage records consumed before the given time.
func (m *MemoryStore) ArchiveOldUsages(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := int64(0)
	for key, usage := range m.usages {
		if usage.ConsumedAt.Before(olderThan) {
			delete(m.usages, key)
			count++
		}
	}
	return count, nil
}

// Close implements the Store interface. MemoryStore holds no external resources.
func (m *MemoryStore) Close() error {
	return nil
}
